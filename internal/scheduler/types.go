// Package scheduler implements the engine spec.md §1 calls "the core —
// the hard part": a single-writer event loop (internal/scheduler.Scheduler)
// that owns fleet state, multiplexes the status/timer/client-RPC/bootstrap
// protocol machines described in spec.md §4, and enforces at-most-one
// active computation.
//
// Every mutation of fleet state happens inside Run's event loop, the
// Scheduler's own goroutine; every other goroutine this package starts (bootstrap,
// spawn, tickers) only performs blocking transport I/O and reports its
// outcome back onto the cmds channel, matching spec.md §9's "explicit
// state machine driven by select over message/timer channels" guidance.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/config"
	"github.com/ocurero/discoro/internal/fleet"
	"github.com/ocurero/discoro/internal/wire"
)

// Transport is the subset of internal/transport.Transport the scheduler
// depends on. Declaring it here (rather than importing the concrete type)
// lets tests substitute a fake without spinning up real sockets, the way
// golang-mastery/distributed-queue's server_test.go substitutes a fake
// queue backend.
type Transport interface {
	Self() wire.Location
	RegisterName(name string, rcvr any) error
	Deliver(ctx context.Context, loc wire.Location, serviceMethod string, args, reply any, timeout time.Duration) error
	Send(loc wire.Location, serviceMethod string, args any) error
	Locate(ctx context.Context, loc wire.Location, name string, timeout time.Duration) (wire.Location, bool, error)
	SendFile(ctx context.Context, loc wire.Location, localPath string, timeout time.Duration) error
	PeerStatus() (<-chan wire.PeerOnline, <-chan wire.PeerOffline, error)
}

// MsgTimeout is the fallback deadline for transport calls made before any
// computation is active (spec.md §5 "every outbound request uses
// computation.timeout ... or MsgTimeout before a computation is active").
const MsgTimeout = 10 * time.Second

// AgentServiceName is the well-known net/rpc registration name every
// server agent answers to (spec.md §4.5 step 3).
const AgentServiceName = "discoro_server"

// --- event-loop command variants ------------------------------------------
//
// Each of these is posted onto Scheduler.cmds and handled by exactly one
// case in dispatch's switch, called from Run's event loop. They are spec.md §9's "tagged variants"
// replacing the source's untyped dict messages, scoped to the scheduler's
// internal channel rather than the wire (wire/messages.go already tags
// the external protocol).

type cmdPeerOnline struct {
	Name string
	Loc  wire.Location
}

type cmdPeerOffline struct {
	Loc wire.Location
}

type cmdTermination struct {
	Term wire.Termination
}

type cmdAgentHeartbeat struct {
	HB wire.AgentHeartbeat
}

type cmdAgentClosed struct {
	AC wire.AgentClosed
}

type cmdPulseTick struct{}

type cmdZombieAudit struct{}

// cmdClientPulse is posted when the client's own pulse mechanism
// acknowledges liveness back to the scheduler (internal/computation's
// _pulse_proc analogue), resetting the client-death timer of spec.md
// §4.3.
type cmdClientPulse struct{}

// cmdBootstrapResult is posted by runBootstrap once it either reaches a
// terminal state (failure: could not locate agent, or one step that must
// remove the server) or completes a phase that requires a fleet mutation
// (agent located, setup acked, files transferred). Phase distinguishes
// which point in spec.md §4.5 the goroutine stopped at.
type cmdBootstrapResult struct {
	Loc      wire.Location
	Phase    bootstrapPhase
	AgentLoc wire.Location // set when Phase >= phaseLocated
	Err      error
}

type bootstrapPhase int

const (
	phaseLocateFailed bootstrapPhase = iota
	phaseLocated                     // agent found, no active computation: stays Discovered
	phaseSetupFailed
	phaseXferFailed
	phaseInitialized
)

// cmdSpawnResult is posted by runSpawn once the agent has replied (or
// timed out) to a run-on-server request (spec.md §4.6). OnDone is invoked
// on the loop goroutine with whatever the caller should actually see
// (post done-buffer reconciliation): a live handle, or — when the spawn
// raced a termination that arrived first — no handle plus that
// termination, letting run/run_each each plug in their own reply shape.
type cmdSpawnResult struct {
	Loc    wire.Location
	Handle string // "" on failure
	OnDone func(handle string, term *wire.TerminationInfo)
}

// cmdSchedule/cmdAwait/... carry a client RPC request plus a reply
// channel the net/rpc handler blocks on; see clientrpc.go.
type cmdSchedule struct {
	Req   wire.ScheduleReq
	Reply chan<- wire.ScheduleResp
}

type cmdAwait struct {
	Req   wire.AwaitReq
	Reply chan<- wire.AwaitResp
}

type cmdRun struct {
	Req   wire.RunReq
	Reply chan<- wire.RunResp
}

type cmdRunEach struct {
	Req   wire.RunEachReq
	Reply chan<- wire.RunEachResp
}

type cmdNodesList struct {
	Req   wire.NodesListReq
	Reply chan<- wire.NodesListResp
}

type cmdServersList struct {
	Req   wire.ServersListReq
	Reply chan<- wire.ServersListResp
}

type cmdCloseComputation struct {
	Req   wire.CloseComputationReq
	Reply chan<- wire.CloseComputationResp
}

// pendingComputation is a schedule()-d but not-yet-awaited computation,
// keyed by the client-facing auth minted at schedule time.
type pendingComputation struct {
	auth       string
	clientLoc  wire.Location
	spec       wire.SerializedComputation
	dir        string
	awaited    bool
	awaitReply chan<- wire.AwaitResp
}

// activeComputation is the single cur_computation of spec.md §3.
type activeComputation struct {
	clientAuth   string // == cur_client_auth, the token the client uses
	internalAuth string // cur_computation._auth, used scheduler<->agent only
	spec         wire.SerializedComputation
	dir          string
	pulseInterval time.Duration
	zombiePeriod  time.Duration
	timeout       time.Duration

	lastClientPulse time.Time
}

// Options configures a Scheduler at construction.
type Options struct {
	Config config.Scheduler
}

// Scheduler is the event-loop engine described by spec.md §4. Exactly one
// goroutine (started by Run) ever touches store, pending or active.
type Scheduler struct {
	logger    *zap.Logger
	transport Transport
	store     *fleet.Store
	cfg       config.Scheduler

	cmds chan any
	quit chan struct{}
	done chan struct{}

	pendingOrder []string
	pending      map[string]*pendingComputation
	active       *activeComputation
}

// New constructs a Scheduler bound to t. Run must be called to start its
// event loop.
func New(t Transport, logger *zap.Logger, cfg config.Scheduler) *Scheduler {
	return &Scheduler{
		logger:    logger,
		transport: t,
		store:     fleet.NewStore(),
		cfg:       cfg,
		cmds:      make(chan any, 64),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		pending:   make(map[string]*pendingComputation),
	}
}
