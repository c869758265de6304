// Package computation implements the client side of spec.md §4.10: a
// Computation gathers task components, schedules itself against a
// scheduler process, and exposes run/run_each/nodes/servers/close RPC
// wrappers plus the pulse watchdog that detects a dead scheduler.
package computation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/config"
	"github.com/ocurero/discoro/internal/discoerr"
	"github.com/ocurero/discoro/internal/wire"
)

// componentKind tags what a Component actually is; Computation's
// constructor switches on it to route into funcNames/dockerTasks/xferFiles.
type componentKind int

const (
	kindFunc componentKind = iota
	kindDockerImage
	kindFile
)

// Component is one piece of a Computation: a named function the agent
// resolves from its own handler registry, a Docker-image-backed task, or
// a local file to ship to every server (SPEC_FULL.md §2.3).
type Component struct {
	kind  componentKind
	name  string
	image string
	args  []string
	path  string
}

// Func names an in-process task handler the agent must already have
// registered (agent.RegisterFunc in internal/agent/agent.go).
func Func(name string) Component {
	return Component{kind: kindFunc, name: name}
}

// DockerImage names a container-backed task kind: image plus its fixed
// argv prefix, resolved by the agent's Docker-backed handler.
func DockerImage(name, image string, args ...string) Component {
	return Component{kind: kindDockerImage, name: name, image: image, args: args}
}

// File ships localPath to every bootstrapped server via the transport's
// send_file, landing in the dest_path root of the server's transport.
func File(localPath string) Component {
	return Component{kind: kindFile, path: localPath}
}

// Transport is the narrow subset of internal/transport.Transport the
// client side depends on.
type Transport interface {
	Self() wire.Location
	RegisterName(name string, rcvr any) error
	Deliver(ctx context.Context, loc wire.Location, serviceMethod string, args, reply any, timeout time.Duration) error
	Send(loc wire.Location, serviceMethod string, args any) error
	Locate(ctx context.Context, loc wire.Location, name string, timeout time.Duration) (wire.Location, bool, error)
	SendFile(ctx context.Context, loc wire.Location, localPath string, timeout time.Duration) error
}

// SchedulerServiceName is the net/rpc name a scheduler registers its
// Client RPC Processor under (internal/scheduler's "ClientRPC"); a
// Computation locates and dials this name at the scheduler's Location.
const SchedulerServiceName = "ClientRPC"

// StatusReceiverServiceName is the net/rpc name a scheduler registers its
// status/pulse intake under (internal/scheduler's "StatusReceiver"). A
// Computation sends its pulse-ack there (DESIGN.md "Post-review fixes"); mirrors the
// identically-named constant internal/agent keeps for its own heartbeats.
const StatusReceiverServiceName = "StatusReceiver"

// Computation is the client-side handle of spec.md §4.10. It is built via
// New, then activated with Schedule; once scheduled, RunAt/RunEach/Nodes/
// Servers/Close operate against the scheduler it was scheduled with.
type Computation struct {
	funcNames   []string
	dockerTasks []wire.DockerTaskSpec
	xferFiles   []string // local source paths, in component order
	tunables    config.Computation

	transport Transport
	logger    *zap.Logger

	mu          sync.Mutex
	auth        string
	schedLoc    wire.Location
	observerLoc wire.Location
	closed      bool
	onStatus    func(wire.DiscoroStatus)

	pulse *pulseWatcher
}

// OnStatus registers a callback invoked for every DiscoroStatus event
// forwarded by the scheduler (spec.md §3's status_observer). Must be
// called before Schedule to avoid missing early events.
func (c *Computation) OnStatus(fn func(wire.DiscoroStatus)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// Options configures a Computation beyond its task components.
type Options struct {
	Transport     Transport
	Logger        *zap.Logger
	PulseCoro     wire.Location // where this scheduler's 'pulse' heartbeats are delivered
	Observer      wire.Location // where DiscoroStatus events are delivered; zero disables
	PulseInterval time.Duration
	ZombiePeriod  time.Duration
	Timeout       time.Duration
	// OnSchedulerDead is invoked by the pulse watcher if the scheduler
	// is declared dead (spec.md §4.10's _pulse_proc self-close rule).
	OnSchedulerDead func()
}

// New validates components and tunables, matching spec.md §4.10's
// construction step: duplicate names/paths are dropped rather than
// rejected, but every File must exist and be readable right away.
func New(opts Options, components ...Component) (*Computation, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required", discoerr.ErrValidation)
	}
	if opts.PulseCoro.IsZero() {
		return nil, fmt.Errorf("%w: pulse_coro is required", discoerr.ErrValidation)
	}

	tunables := config.Computation{
		PulseInterval: opts.PulseInterval,
		ZombiePeriod:  opts.ZombiePeriod,
		Timeout:       opts.Timeout,
	}
	tunables.WithDefaults()
	if err := tunables.Validate(); err != nil {
		return nil, err
	}

	c := &Computation{
		transport:   opts.Transport,
		logger:      opts.Logger,
		tunables:    tunables,
		observerLoc: opts.Observer,
	}

	seenNames := make(map[string]bool)
	seenPaths := make(map[string]bool)
	for _, comp := range components {
		switch comp.kind {
		case kindFunc:
			if comp.name == "" || seenNames[comp.name] {
				continue
			}
			seenNames[comp.name] = true
			c.funcNames = append(c.funcNames, comp.name)
		case kindDockerImage:
			if comp.name == "" || seenNames[comp.name] {
				continue
			}
			seenNames[comp.name] = true
			c.dockerTasks = append(c.dockerTasks, wire.DockerTaskSpec{Name: comp.name, Image: comp.image, Args: comp.args})
		case kindFile:
			if comp.path == "" || seenPaths[comp.path] {
				continue
			}
			f, err := os.Open(comp.path)
			if err != nil {
				return nil, fmt.Errorf("%w: xfer file %s: %v", discoerr.ErrValidation, comp.path, err)
			}
			f.Close()
			seenPaths[comp.path] = true
			c.xferFiles = append(c.xferFiles, comp.path)
		}
	}

	c.pulse = newPulseWatcher(c, opts.Transport.Self(), opts.OnSchedulerDead)
	if err := opts.Transport.RegisterName("Observer", (*observerService)(c)); err != nil {
		return nil, fmt.Errorf("computation: register observer service: %w", err)
	}
	return c, nil
}

func (c *Computation) xferFileNames() []string {
	names := make([]string, len(c.xferFiles))
	for i, p := range c.xferFiles {
		names[i] = filepath.Base(p)
	}
	return names
}

// Auth returns the auth this Computation was scheduled under. Empty
// until Schedule succeeds.
func (c *Computation) Auth() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth
}
