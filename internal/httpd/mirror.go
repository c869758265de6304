// Package httpd implements the reference HTTP monitoring dashboard
// (SPEC_FULL.md §2.4): a DiscoroStatus observer that mirrors the
// scheduler's node/server/task state into its own locked copy and serves
// it over a small gorilla/mux-routed JSON/static-file API, grounded in
// original_source/py3/asyncoro/httpd.py.
package httpd

import (
	"sync"
	"time"

	"github.com/ocurero/discoro/internal/wire"
)

// coroMirror is the dashboard's view of one remote task: enough to list
// it and to route a terminate request back to the server hosting it.
type coroMirror struct {
	Handle    string
	Location  wire.Location
	StartedAt int64
}

// serverMirror is the dashboard's view of one agent-backed server.
type serverMirror struct {
	Location       wire.Location
	Status         wire.StatusCode
	Coros          map[string]*coroMirror
	CorosSubmitted int
	CorosDone      int
}

// nodeMirror is the dashboard's view of one host, grouping its servers.
type nodeMirror struct {
	Addr       string
	Status     wire.StatusCode
	Servers    map[string]*serverMirror // keyed by Location.String()
	UpdateTime time.Time
}

// mirror is the locked state a Dashboard maintains from the DiscoroStatus
// stream; it never reads scheduler state directly (SPEC_FULL.md §2.4).
type mirror struct {
	mu      sync.Mutex
	nodes   map[string]*nodeMirror // keyed by host address
	dirty   map[string]struct{}    // node addrs changed since last /cluster_updates read
	pollSec int
}

func newMirror(pollSec int) *mirror {
	return &mirror{
		nodes:   make(map[string]*nodeMirror),
		dirty:   make(map[string]struct{}),
		pollSec: pollSec,
	}
}

func (m *mirror) nodeFor(addr string) *nodeMirror {
	n, ok := m.nodes[addr]
	if !ok {
		n = &nodeMirror{Addr: addr, Status: wire.NodeDiscovered, Servers: make(map[string]*serverMirror)}
		m.nodes[addr] = n
	}
	return n
}

func (m *mirror) touch(n *nodeMirror) {
	n.UpdateTime = time.Now()
	m.dirty[n.Addr] = struct{}{}
}

// apply folds one DiscoroStatus event into the mirror, mirroring the
// status_proc dispatch in httpd.py.
func (m *mirror) apply(st wire.DiscoroStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch st.Status {
	case wire.NodeDiscovered, wire.NodeInitialized, wire.NodeClosed, wire.NodeIgnore, wire.NodeDisconnected:
		if st.Host == "" {
			return
		}
		n := m.nodeFor(st.Host)
		n.Status = st.Status
		m.touch(n)
		if st.Status == wire.NodeClosed || st.Status == wire.NodeDisconnected {
			if len(n.Servers) == 0 {
				delete(m.nodes, st.Host)
			}
		}

	case wire.ServerDiscovered, wire.ServerInitialized:
		if st.Location == nil {
			return
		}
		n := m.nodeFor(st.Location.Addr)
		key := st.Location.String()
		srv, ok := n.Servers[key]
		if !ok {
			srv = &serverMirror{Location: *st.Location, Coros: make(map[string]*coroMirror)}
			n.Servers[key] = srv
		}
		srv.Status = st.Status
		if st.Status == wire.ServerInitialized && n.Status != wire.NodeInitialized {
			// A server can only be promoted once its node is reachable;
			// see SPEC_FULL.md §2.4's ServerInitialized/ServerDiscovered
			// resolution for where schedulability is decided.
			n.Status = wire.NodeInitialized
		}
		m.touch(n)

	case wire.ServerClosed, wire.ServerIgnore, wire.ServerDisconnected:
		// ServerClosed does double duty: the scheduler also emits it,
		// carrying a Handle and Term, once per still-running task as it
		// tears a server down (closeServer/synthesizeServerClose) — that
		// shape is a task termination, not the server-removal event.
		if st.Handle != "" {
			if st.Location != nil {
				m.completeCoro(*st.Location, st.Handle)
			} else {
				m.dropCoroByHandle(st.Handle)
			}
			return
		}
		if st.Location != nil {
			n, ok := m.nodes[st.Location.Addr]
			if ok {
				delete(n.Servers, st.Location.String())
				if len(n.Servers) == 0 {
					delete(m.nodes, n.Addr)
				} else {
					m.touch(n)
				}
			}
		}

	case wire.CoroCreated:
		if st.Location == nil || st.Coro == nil {
			return
		}
		n := m.nodeFor(st.Location.Addr)
		srv, ok := n.Servers[st.Location.String()]
		if !ok {
			return
		}
		srv.Coros[st.Handle] = &coroMirror{Handle: st.Handle, Location: *st.Location, StartedAt: st.Coro.StartedAt}
		srv.CorosSubmitted++
		m.touch(n)

	default:
		// Any other status code is a task termination: the Handle/Term
		// pair it carries is what spec.md §4.2 calls "remote-task
		// termination forwarded to the observer".
		if st.Handle != "" {
			if st.Location != nil {
				m.completeCoro(*st.Location, st.Handle)
			} else {
				m.dropCoroByHandle(st.Handle)
			}
		}
	}
}

func (m *mirror) completeCoro(loc wire.Location, handle string) {
	n, ok := m.nodes[loc.Addr]
	if !ok {
		return
	}
	srv, ok := n.Servers[loc.String()]
	if !ok {
		return
	}
	if _, tracked := srv.Coros[handle]; tracked {
		delete(srv.Coros, handle)
		srv.CorosDone++
		m.touch(n)
	}
}

// dropCoroByHandle scans every server for handle, used only when an
// event arrives without a Location (an edge case the wire protocol
// otherwise avoids by always stamping coro events with one).
func (m *mirror) dropCoroByHandle(handle string) {
	for _, n := range m.nodes {
		for _, srv := range n.Servers {
			if _, ok := srv.Coros[handle]; ok {
				delete(srv.Coros, handle)
				srv.CorosDone++
				m.touch(n)
				return
			}
		}
	}
}

// findCoro resolves a coro handle to the server hosting it, for
// /terminate_coros.
func (m *mirror) findCoro(handle string) (wire.Location, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.nodes {
		for _, srv := range n.Servers {
			if c, ok := srv.Coros[handle]; ok {
				return c.Location, true
			}
		}
	}
	return wire.Location{}, false
}

// setPollSec clamps negative/invalid values to 0, matching httpd.py's
// set_poll_sec handler.
func (m *mirror) setPollSec(sec int) {
	if sec < 0 {
		sec = 0
	}
	m.mu.Lock()
	m.pollSec = sec
	m.mu.Unlock()
}
