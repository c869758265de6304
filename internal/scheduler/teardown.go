package scheduler

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/fleet"
	"github.com/ocurero/discoro/internal/wire"
)

// closeServer implements spec.md §4.9's __close_server. The agent close
// notification is fire-and-forget (Transport.Send), not an awaited
// Deliver: the loop goroutine that calls this must never block on
// network I/O, and nothing downstream depends on the agent's ack.
func (s *Scheduler) closeServer(server *fleet.Server, node *fleet.Node) error {
	if s.active == nil {
		return nil
	}
	wasInitialized := server.Status == fleet.StatusInitialized

	for handle := range server.Coros {
		s.emit(wire.DiscoroStatus{
			Status:   wire.ServerClosed,
			Location: &server.Location,
			Handle:   handle,
			Term:     &wire.TerminationInfo{Status: wire.ServerClosed},
		})
	}

	var sendErr error
	if server.AgentAddr != "" {
		loc, err := wire.ParseLocation(server.AgentAddr)
		if err != nil {
			sendErr = fmt.Errorf("close server %s: bad agent address %q: %w", server.Location, server.AgentAddr, err)
		} else {
			sendErr = s.transport.Send(loc, AgentServiceName+".Close", wire.CloseServerReq{Auth: s.active.internalAuth})
		}
	}

	if wasInitialized {
		node.Ncoros -= len(server.Coros)
	}
	server.Status = fleet.StatusClosed
	server.Coros = make(map[string]*fleet.RemoteTask)
	server.Done = make(map[string]wire.Termination)
	server.XferFiles = nil
	s.emitLocation(wire.ServerClosed, server.Location)
	return sendErr
}

// closeNode implements spec.md §4.9's __close_node: close every server of
// n, then reset the node itself. Per-server close errors are aggregated
// with go-multierror the way hashicorp-nomad aggregates shutdown errors,
// and logged rather than propagated — a failed close notification to one
// agent must not stop the rest of teardown.
func (s *Scheduler) closeNode(node *fleet.Node) {
	var merr *multierror.Error
	for _, srv := range s.store.OrderedServers(node) {
		if err := s.closeServer(srv, node); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	node.Ncoros = 0
	node.Status = fleet.StatusClosed
	s.emitHost(wire.NodeClosed, node.Addr)

	if err := merr.ErrorOrNil(); err != nil {
		s.logger.Warn("scheduler: errors while closing node", zap.String("addr", node.Addr), zap.Error(err))
	}
}

// closeComputation implements spec.md §4.9's __close_computation: null
// the observer first so the node/server Closed events closeNode emits
// during this teardown never reach it (only an explicit ComputationClosed
// emitted by the caller, if any, is seen), close every node, delete the
// per-auth directory, and clear cur_*.
func (s *Scheduler) closeComputation() {
	if s.active == nil {
		return
	}
	dir := s.active.dir
	s.active.spec.Observer = wire.Location{}

	for _, node := range s.store.Nodes() {
		s.closeNode(node)
	}

	if dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("scheduler: failed to remove computation directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	s.store.Reset()
	s.active = nil
	s.promoteNextPending()
}
