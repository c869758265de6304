package wire

// StatusCode is the stable, wire-level status enum from spec.md §6. Values
// are fixed and must never be renumbered: they are observed by external
// HTTP dashboard clients and by computation status observers across
// process boundaries.
type StatusCode int

const (
	NodeDiscovered    StatusCode = 1
	NodeInitialized   StatusCode = 2
	NodeClosed        StatusCode = 3
	NodeIgnore        StatusCode = 4
	NodeDisconnected  StatusCode = 5
	ServerDiscovered  StatusCode = 11
	ServerInitialized StatusCode = 12
	ServerClosed      StatusCode = 13
	ServerIgnore      StatusCode = 14
	ServerDisconnected StatusCode = 15
	CoroCreated       StatusCode = 20
	ComputationClosed StatusCode = 25
)

// String names the enum for log lines; it is never parsed back.
func (s StatusCode) String() string {
	switch s {
	case NodeDiscovered:
		return "NodeDiscovered"
	case NodeInitialized:
		return "NodeInitialized"
	case NodeClosed:
		return "NodeClosed"
	case NodeIgnore:
		return "NodeIgnore"
	case NodeDisconnected:
		return "NodeDisconnected"
	case ServerDiscovered:
		return "ServerDiscovered"
	case ServerInitialized:
		return "ServerInitialized"
	case ServerClosed:
		return "ServerClosed"
	case ServerIgnore:
		return "ServerIgnore"
	case ServerDisconnected:
		return "ServerDisconnected"
	case CoroCreated:
		return "CoroCreated"
	case ComputationClosed:
		return "ComputationClosed"
	default:
		return "Unknown"
	}
}

// CoroInfo describes a remote task for status events and the dashboard:
// its handle (opaque task identifier string), the arguments it was
// spawned with, and when it started.
type CoroInfo struct {
	Handle    string
	Args      []byte
	Kwargs    []byte
	StartedAt int64 // unix nanos; wire-stable, avoids clock-type ambiguity
}

// TerminationInfo describes how a remote task ended: the status under
// which it ended (usually ServerClosed for a synthesized close, or zero
// for a normal exit) and an optional result payload.
type TerminationInfo struct {
	Status StatusCode
	Result []byte
	Err    string
}

// DiscoroStatus is the 2-tuple the scheduler emits to a computation's
// status observer: a status code and status-specific info. Info is one of
// Location, a bare host address (string), a CoroInfo (CoroCreated), or a
// task handle plus TerminationInfo (a remote-task termination forwarded
// per spec.md §4.2) — callers type switch on the concrete field that's
// set.
type DiscoroStatus struct {
	Status   StatusCode
	Location *Location        `json:",omitempty"`
	Host     string           `json:",omitempty"`
	Coro     *CoroInfo        `json:",omitempty"`
	Handle   string           `json:",omitempty"`
	Term     *TerminationInfo `json:",omitempty"`
}
