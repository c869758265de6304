// Package agent implements the server side of the agent wire protocol
// spec.md §6 specifies only as an external collaborator's contract: a
// process that registers itself under the well-known name
// "discoro_server", accepts setup/run/close requests from a scheduler,
// and reports task completions and heartbeats back to it.
package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/wire"
)

// ServiceName is the net/rpc name this agent registers itself under; it
// is what the scheduler's internal/scheduler.AgentServiceName Locates.
const ServiceName = "discoro_server"

// StatusReceiverServiceName is the net/rpc name the scheduler exposes
// for inbound termination/heartbeat/closed reports.
const StatusReceiverServiceName = "StatusReceiver"

// TaskHandler runs one spawned task to completion and returns its result
// payload, or an error that becomes a non-empty TerminationInfo.Err.
type TaskHandler func(ctx context.Context, args, kwargs []byte) (result []byte, err error)

// Transport is the narrow subset of internal/transport.Transport the
// agent depends on.
type Transport interface {
	Self() wire.Location
	RegisterName(name string, rcvr any) error
	Deliver(ctx context.Context, loc wire.Location, serviceMethod string, args, reply any, timeout time.Duration) error
	Send(loc wire.Location, serviceMethod string, args any) error
}

// runningTask tracks one in-flight spawn so Close (terminate) can cancel
// its context.
type runningTask struct {
	cancel context.CancelFunc
}

// Agent is one server process's handle onto the scheduler protocol. A
// single Agent instance serves exactly one computation at a time: Setup
// establishes the auth/scheduler/pulse binding, Run spawns tasks against
// the pre-registered handler table, Close tears the binding down.
type Agent struct {
	transport Transport
	logger    *zap.Logger

	mu       sync.Mutex
	handlers map[string]TaskHandler

	auth            string
	schedulerLoc    wire.Location
	pulseCoro       wire.Location
	timeout         time.Duration
	running         map[string]*runningTask
	ncoros          int
	seq             int64
	heartbeatPeriod time.Duration

	heartbeatQuit chan struct{}
}

// Options configures an Agent at construction.
type Options struct {
	Transport       Transport
	Logger          *zap.Logger
	HeartbeatPeriod time.Duration // 0 uses DefaultHeartbeatPeriod
}

// DefaultHeartbeatPeriod is used when Options.HeartbeatPeriod is unset.
const DefaultHeartbeatPeriod = 5 * time.Second

// New constructs an Agent and registers it on t under ServiceName.
func New(opts Options) (*Agent, error) {
	a := &Agent{
		transport: opts.Transport,
		logger:    opts.Logger,
		handlers:  make(map[string]TaskHandler),
		running:   make(map[string]*runningTask),
	}
	if opts.HeartbeatPeriod <= 0 {
		opts.HeartbeatPeriod = DefaultHeartbeatPeriod
	}
	if err := opts.Transport.RegisterName(ServiceName, (*agentService)(a)); err != nil {
		return nil, err
	}
	a.heartbeatPeriod = opts.HeartbeatPeriod
	return a, nil
}

// RegisterFunc adds an in-process task handler under name, callable by a
// Computation's Func(name) component. Must be called before the agent
// accepts its first Setup.
func (a *Agent) RegisterFunc(name string, handler TaskHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[name] = handler
}

// RegisterDockerImage adds a container-backed task handler under name,
// callable by a Computation's DockerImage(name, ...) component.
func (a *Agent) RegisterDockerImage(name, image string, argv ...string) {
	a.RegisterFunc(name, DockerImageHandler(image, argv...))
}

// isSetUp reports whether this agent currently belongs to an active
// computation, and under which auth.
func (a *Agent) isSetUp() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.auth, a.auth != ""
}
