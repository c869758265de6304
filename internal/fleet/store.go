package fleet

import (
	"github.com/ocurero/discoro/internal/wire"
)

// Store is the fleet state store of spec.md §4.1: Nodes keyed by host
// address, each owning Servers keyed by Location. It is not safe for
// concurrent use — every method must run on the scheduler's single
// event-loop goroutine.
type Store struct {
	nodeOrder []string
	nodes     map[string]*Node

	// serverOrder tracks per-node insertion order of servers so
	// placement and run_each iterate in a stable, reproducible order
	// (spec.md §4.4: "ties broken by iteration order").
	serverOrder map[string][]wire.Location
}

// NewStore creates an empty fleet state store.
func NewStore() *Store {
	return &Store{
		nodes:       make(map[string]*Node),
		serverOrder: make(map[string][]wire.Location),
	}
}

// Node looks up a node by host address.
func (s *Store) Node(addr string) (*Node, bool) {
	n, ok := s.nodes[addr]
	return n, ok
}

// Nodes returns every known node in stable insertion order.
func (s *Store) Nodes() []*Node {
	out := make([]*Node, 0, len(s.nodeOrder))
	for _, addr := range s.nodeOrder {
		out = append(out, s.nodes[addr])
	}
	return out
}

// InitializedNodes returns the subset of Nodes with Status ==
// StatusInitialized, in stable order.
func (s *Store) InitializedNodes() []*Node {
	var out []*Node
	for _, n := range s.Nodes() {
		if n.Status == StatusInitialized {
			out = append(out, n)
		}
	}
	return out
}

// Server looks up a server by location, along with its parent node.
func (s *Store) Server(loc wire.Location) (*Server, *Node, bool) {
	for _, n := range s.nodes {
		if srv, ok := n.Servers[loc]; ok {
			return srv, n, true
		}
	}
	return nil, nil, false
}

// OrderedServers returns a node's servers in stable insertion order.
func (s *Store) OrderedServers(n *Node) []*Server {
	order := s.serverOrder[n.Addr]
	out := make([]*Server, 0, len(order))
	for _, loc := range order {
		if srv, ok := n.Servers[loc]; ok {
			out = append(out, srv)
		}
	}
	return out
}

// OnPeerOnline implements the "Peer Online" operation of spec.md §4.2: it
// creates the Server entry, creating the parent Node first if this is the
// first server seen for that host. nodeCreated reports whether the node
// did not exist before this call; the scheduler's onPeerOnline currently
// ignores it and emits no NodeDiscovered event from here.
func (s *Store) OnPeerOnline(name string, loc wire.Location) (node *Node, server *Server, nodeCreated bool) {
	node, existed := s.nodes[loc.Addr]
	if !existed {
		node = newNode(loc.Addr)
		s.nodes[loc.Addr] = node
		s.nodeOrder = append(s.nodeOrder, loc.Addr)
	}

	if srv, ok := node.Servers[loc]; ok {
		return node, srv, !existed
	}

	server = newServer(name, loc)
	node.Servers[loc] = server
	s.serverOrder[node.Addr] = append(s.serverOrder[node.Addr], loc)
	return node, server, !existed
}

// OnPeerOffline implements the "Peer Offline" removal half of spec.md
// §4.2: it detaches the server from its node and reports whether the
// node consequently became empty (the caller then emits NodeDisconnected
// and removes it via RemoveNode).
func (s *Store) OnPeerOffline(loc wire.Location) (server *Server, node *Node, nodeEmptied bool, ok bool) {
	server, node, ok = s.Server(loc)
	if !ok {
		return nil, nil, false, false
	}
	delete(node.Servers, loc)
	order := s.serverOrder[node.Addr]
	for i, l := range order {
		if l == loc {
			s.serverOrder[node.Addr] = append(order[:i], order[i+1:]...)
			break
		}
	}
	return server, node, node.Empty(), true
}

// RemoveNode deletes a node entirely (called once its last server is
// gone, spec.md §3 "destroyed when its last server is removed").
func (s *Store) RemoveNode(addr string) {
	delete(s.nodes, addr)
	delete(s.serverOrder, addr)
	for i, a := range s.nodeOrder {
		if a == addr {
			s.nodeOrder = append(s.nodeOrder[:i], s.nodeOrder[i+1:]...)
			break
		}
	}
}

// Reset clears all fleet state, used by __close_computation's teardown
// and by tests.
func (s *Store) Reset() {
	s.nodeOrder = nil
	s.nodes = make(map[string]*Node)
	s.serverOrder = make(map[string][]wire.Location)
}
