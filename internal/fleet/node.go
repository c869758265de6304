// Package fleet holds the scheduler's in-memory registry of nodes,
// servers and remote tasks (spec.md §3, §4.1). It has a single owner:
// every exported method here is only ever called from the scheduler's
// event-loop goroutine (internal/scheduler). The package itself takes no
// lock; callers that need concurrent access (the HTTP dashboard) keep
// their own mirror, as spec.md §5 requires.
package fleet

import (
	"github.com/ocurero/discoro/internal/wire"
)

// Status is shared by Node and Server (spec.md §3).
type Status int

const (
	StatusDiscovered Status = iota
	StatusInitialized
	StatusClosed
	StatusIgnore
	StatusDisconnected
)

// Telemetry is the optional resource usage an agent may self-report.
// It never participates in placement (SPEC_FULL.md §2.1).
type Telemetry struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

// Node is a physical/virtual host identified by its address, running zero
// or more Servers.
type Node struct {
	Addr      string
	Status    Status
	Servers   map[wire.Location]*Server
	Ncoros    int
	Telemetry Telemetry
}

func newNode(addr string) *Node {
	return &Node{
		Addr:    addr,
		Status:  StatusDiscovered,
		Servers: make(map[wire.Location]*Server),
	}
}

// Empty reports whether the node has no more servers, the condition
// under which the status processor removes it (spec.md §4.2).
func (n *Node) Empty() bool {
	return len(n.Servers) == 0
}

// LoadFactor is the node's ncoros-per-server ratio used by the placement
// engine (spec.md §4.4): smallest wins. A node with zero servers never
// reaches this comparison because the store only considers Initialized
// nodes, which by invariant have at least one Initialized server.
func (n *Node) LoadFactor() float64 {
	if len(n.Servers) == 0 {
		return 0
	}
	return float64(n.Ncoros) / float64(len(n.Servers))
}
