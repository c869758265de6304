package wire

import "time"

// --- Client <-> Scheduler protocol (spec.md §4.8) -------------------------
//
// Each request the source multiplexed through one untyped dict is given
// its own wire type here; internal/scheduler maps each to a net/rpc
// method name ("ClientRPC.Schedule", "ClientRPC.Await", ...). An unknown
// net/rpc method name is itself the "unknown req" case spec.md asks to
// log and drop, so there is no separate discriminator byte on the wire.

// SerializedComputation is what a client ships to "schedule": the code
// components with their plug-in task-kind names (SPEC_FULL.md §2.3), the
// xfer file names (contents follow separately via SendFile), and the
// tunables validated by computation.New.
type SerializedComputation struct {
	FuncNames     []string
	DockerTasks   []DockerTaskSpec
	XferFileNames []string
	// XferFilePaths are the client's original absolute source paths, in
	// the same order as XferFileNames. Only meaningful when ClientHost
	// names the scheduler's own host: the same-host shortcut (spec.md
	// §4.8/§4.10) skips SendFile entirely, so these are the only paths
	// at which the scheduler can find the files at all.
	XferFilePaths []string
	PulseCoro     Location
	// Observer is the client task that receives DiscoroStatus events
	// (spec.md §3's status_observer), distinct from PulseCoro which only
	// ever sees 'pulse' heartbeats. The zero Location means "no
	// observer registered" (spec.md §9: a weak subscription, drops are
	// silent when absent).
	Observer      Location
	PulseInterval time.Duration
	ZombiePeriod  time.Duration // 0 means "not set"
	Timeout       time.Duration
	ClientHost    string
}

// DockerTaskSpec names a container-backed task kind (SPEC_FULL.md §2.5).
type DockerTaskSpec struct {
	Name  string
	Image string
	Args  []string
}

type ScheduleReq struct {
	Client     Location
	Auth       string // external client auth, carried for symmetry; the scheduler does not read it
	Computation SerializedComputation
}

type ScheduleResp struct {
	Auth string // freshly minted scheduler-side auth identifying the queued computation
	Err  string
}

type AwaitReq struct {
	Auth       string
	ClientHost string
}

type AwaitResp struct {
	Scheduled bool
	Auth      string
	Err       string
}

// RunTarget discriminates the three run() placement modes of spec.md
// §4.4: nil target (least-loaded anywhere), a bare host (least-loaded
// server on that node), or an exact Location.
type RunTarget struct {
	Kind RunTargetKind
	Host string
	Loc  Location
}

type RunTargetKind int

const (
	RunTargetAny RunTargetKind = iota
	RunTargetHost
	RunTargetLocation
)

type RunReq struct {
	Auth     string
	Client   Location
	FuncName string
	Args     []byte
	Kwargs   []byte
	Target   RunTarget
}

type RunResp struct {
	Handle string // empty means null/failed placement
	// Term is set instead of Handle when the spawn/terminate race of
	// spec.md §4.6 step 5 resolves against an already-buffered
	// termination: the task ran and finished before this reply went
	// out, so the caller is handed its outcome rather than a handle
	// that looks live (matching the original discoro.py:478-484's
	// "rcoro = done").
	Term *TerminationInfo `json:",omitempty"`
	Err  string
}

// RunEachScope discriminates run_each's three scopes (spec.md §4.4):
// one per Initialized node, one per Initialized server, or one per
// server of a named node.
type RunEachScope int

const (
	RunEachNode RunEachScope = iota
	RunEachServer
	RunEachNodeServers
)

type RunEachReq struct {
	Auth     string
	Client   Location
	FuncName string
	Args     []byte
	Kwargs   []byte
	Scope    RunEachScope
	Host     string // only meaningful for RunEachNodeServers
}

type RunEachResp struct {
	Handles []string // "" entries mark a failed spawn on that server
	// Terms is parallel to Handles: set for a slot whose spawn raced a
	// termination that arrived first (spec.md §4.6 step 5), nil
	// elsewhere.
	Terms []*TerminationInfo `json:",omitempty"`
	Err   string
}

type NodesListReq struct{ Auth string }
type NodesListResp struct {
	Addrs []string
	Err   string
}

type ServersListReq struct{ Auth string }
type ServersListResp struct {
	Locations []string
	Err       string
}

type CloseComputationReq struct{ Auth string }
type CloseComputationResp struct{ Err string }

// --- Scheduler <-> Agent protocol (spec.md §6) -----------------------------

type SetupReq struct {
	// Scheduler is the scheduler's own Location, so the agent knows
	// where to send heartbeats and "StatusReceiver.Closed"/termination reports
	// (the per-task Client Location travels separately on each
	// RunOnServerReq instead, since setup precedes any particular run).
	Scheduler Location
	Auth      string
	PulseCoro Location
	Timeout   time.Duration
}

type SetupResp struct {
	Code int // 0 ok, non-zero is logged and aborts bootstrap
}

type RunOnServerReq struct {
	Auth     string
	FuncName string
	Args     []byte
	Kwargs   []byte
	Client   Location
	Notify   Location
}

type RunOnServerResp struct {
	Handle string // empty means the agent refused/failed to spawn
}

type CloseServerReq struct{ Auth string }
type CloseServerResp struct{ Ack bool }

// AgentHeartbeat is the out-of-band {ncoros, location} pulse an agent
// sends to the scheduler's timer processor (spec.md §4.3).
type AgentHeartbeat struct {
	Location Location
	Ncoros   int
}

// ClientPulse is the client-side pulse processor's liveness ack back to
// the scheduler (DESIGN.md "Post-review fixes" adaptation of spec.md §4.3's "delivery
// fails" client-death detection into an explicit inbound heartbeat).
type ClientPulse struct {
	ClientHost string
}

// AgentClosed is the out-of-band {status: ServerClosed, location} report
// an agent can send ahead of (or instead of) a peer-offline event.
type AgentClosed struct {
	Location Location
}

// Termination is delivered by the agent (or synthesized by teardown) when
// a remote task ends.
type Termination struct {
	Handle   string
	Location Location
	Info     TerminationInfo
}

// --- Discovery / peer status (spec.md §6) ---------------------------------

type PeerOnline struct {
	Name     string
	Location Location
}

type PeerOffline struct {
	Location Location
}

// FileChunk frames one piece of a SendFile transfer.
type FileChunk struct {
	TransferID string
	Name       string
	Offset     int64
	Data       []byte
	Final      bool
}

type FileChunkAck struct {
	Code int // negative on failure, matching spec.md's send_file contract
}
