package scheduler

import (
	"github.com/ocurero/discoro/internal/fleet"
	"github.com/ocurero/discoro/internal/wire"
)

// leastLoadedServer picks the Initialized server of node with the fewest
// active coros, ties broken by the node's stable insertion order (spec.md
// §4.4).
func leastLoadedServer(store *fleet.Store, node *fleet.Node) (*fleet.Server, bool) {
	var best *fleet.Server
	for _, srv := range store.OrderedServers(node) {
		if srv.Status != fleet.StatusInitialized {
			continue
		}
		if best == nil || len(srv.Coros) < len(best.Coros) {
			best = srv
		}
	}
	return best, best != nil
}

// leastLoadedNode picks the Initialized node with the smallest
// ncoros/len(servers) load factor, ties broken by insertion order.
func leastLoadedNode(store *fleet.Store) (*fleet.Node, bool) {
	var best *fleet.Node
	for _, n := range store.InitializedNodes() {
		if best == nil || n.LoadFactor() < best.LoadFactor() {
			best = n
		}
	}
	return best, best != nil
}

// selectRunTarget resolves spec.md §4.4's run(func) dispatcher across its
// three target shapes: no target (least-loaded anywhere), a host string
// (least-loaded server on that node), or an exact Location.
func selectRunTarget(store *fleet.Store, target wire.RunTarget) (*fleet.Server, bool) {
	switch target.Kind {
	case wire.RunTargetHost:
		node, ok := store.Node(target.Host)
		if !ok || node.Status != fleet.StatusInitialized {
			return nil, false
		}
		return leastLoadedServer(store, node)
	case wire.RunTargetLocation:
		srv, _, ok := store.Server(target.Loc)
		if !ok || srv.Status != fleet.StatusInitialized {
			return nil, false
		}
		return srv, true
	default: // RunTargetAny
		node, ok := leastLoadedNode(store)
		if !ok {
			return nil, false
		}
		return leastLoadedServer(store, node)
	}
}

// selectRunEachTargets resolves spec.md §4.4's run_each scopes to the set
// of servers that each receive one spawn.
func selectRunEachTargets(store *fleet.Store, scope wire.RunEachScope, host string) []*fleet.Server {
	switch scope {
	case wire.RunEachNode:
		var out []*fleet.Server
		for _, n := range store.InitializedNodes() {
			if srv, ok := leastLoadedServer(store, n); ok {
				out = append(out, srv)
			}
		}
		return out
	case wire.RunEachNodeServers:
		node, ok := store.Node(host)
		if !ok || node.Status != fleet.StatusInitialized {
			return nil
		}
		return initializedServersOf(store, node)
	default: // RunEachServer
		var out []*fleet.Server
		for _, n := range store.InitializedNodes() {
			out = append(out, initializedServersOf(store, n)...)
		}
		return out
	}
}

func initializedServersOf(store *fleet.Store, node *fleet.Node) []*fleet.Server {
	var out []*fleet.Server
	for _, srv := range store.OrderedServers(node) {
		if srv.Status == fleet.StatusInitialized {
			out = append(out, srv)
		}
	}
	return out
}
