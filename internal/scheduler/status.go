package scheduler

import (
	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/fleet"
	"github.com/ocurero/discoro/internal/wire"
)

// onPeerOnline implements spec.md §4.2's "Peer Online" operation.
func (s *Scheduler) onPeerOnline(name string, loc wire.Location) {
	node, _, _ := s.store.OnPeerOnline(name, loc)
	if node.Status != fleet.StatusIgnore {
		s.startBootstrap(loc)
	}
}

// onPeerOffline implements spec.md §4.2's "Peer Offline of a known
// server" operation, including the client-death cascade.
func (s *Scheduler) onPeerOffline(loc wire.Location) {
	server, node, nodeEmptied, ok := s.store.OnPeerOffline(loc)
	if !ok {
		return
	}

	if s.active != nil {
		s.emitLocation(wire.ServerDisconnected, loc)
	}

	s.synthesizeServerClose(server)

	if nodeEmptied {
		s.store.RemoveNode(node.Addr)
		if s.active != nil {
			s.emitHost(wire.NodeDisconnected, node.Addr)
		}
	}

	if s.active != nil && s.active.spec.PulseCoro == loc {
		s.logger.Warn("scheduler: client pulse location went offline, closing computation",
			zap.String("location", loc.String()))
		s.closeComputation()
	}
}

// synthesizeServerClose emits a synthesized termination for every task
// still recorded on a server that just disappeared, matching the
// "synthesize a termination event (task, (ServerClosed, null))" behavior
// __close_server performs explicitly (spec.md §4.9), reused here because
// an offline peer never gets a chance to report its own terminations.
func (s *Scheduler) synthesizeServerClose(server *fleet.Server) {
	if s.active == nil {
		return
	}
	for handle := range server.Coros {
		s.emit(wire.DiscoroStatus{
			Status:   wire.ServerClosed,
			Location: &server.Location,
			Handle:   handle,
			Term:     &wire.TerminationInfo{Status: wire.ServerClosed},
		})
	}
}

// onTermination implements spec.md §4.2's "Remote-task termination"
// operation, including the spawn/terminate race buffer in server.done.
func (s *Scheduler) onTermination(term wire.Termination) {
	server, node, ok := s.store.Server(term.Location)
	if !ok {
		s.logger.Warn("scheduler: termination for unknown server, dropped",
			zap.String("location", term.Location.String()))
		return
	}

	if _, active := server.Coros[term.Handle]; active {
		delete(server.Coros, term.Handle)
		node.Ncoros--
		s.emit(wire.DiscoroStatus{
			Status:   term.Info.Status,
			Location: &term.Location,
			Handle:   term.Handle,
			Term:     &term.Info,
		})
		return
	}

	// Termination raced ahead of the spawn acknowledgment: buffer it for
	// the spawn path to consume (spec.md §4.6 step 5, §8 race law).
	server.Done[term.Handle] = term
}

// onAgentHeartbeat implements the heartbeat half of spec.md §4.3: update
// server.last_pulse and log a mismatch against the server's own coros
// count.
func (s *Scheduler) onAgentHeartbeat(hb wire.AgentHeartbeat) {
	server, _, ok := s.store.Server(hb.Location)
	if !ok {
		return
	}
	server.LastPulse = now()
	if hb.Ncoros != len(server.Coros) {
		s.logger.Warn("scheduler: agent-reported ncoros mismatch",
			zap.String("location", hb.Location.String()),
			zap.Int("reported", hb.Ncoros), zap.Int("tracked", len(server.Coros)))
	}
}

// onAgentClosed implements spec.md §4.3's out-of-band ServerClosed
// report: transition the server, then cascade node/computation closure if
// it was the last live server/node.
func (s *Scheduler) onAgentClosed(ac wire.AgentClosed) {
	server, node, ok := s.store.Server(ac.Location)
	if !ok {
		return
	}
	s.transitionServerClosed(server, node)
}

func (s *Scheduler) transitionServerClosed(server *fleet.Server, node *fleet.Node) {
	if server.Status == fleet.StatusInitialized {
		node.Ncoros -= len(server.Coros)
	}
	server.Status = fleet.StatusClosed
	server.Coros = make(map[string]*fleet.RemoteTask)
	s.emitLocation(wire.ServerClosed, server.Location)

	if !anyInitialized(node.Servers) {
		node.Status = fleet.StatusClosed
		s.emitHost(wire.NodeClosed, node.Addr)
	}

	if s.active != nil && !anyNodeInitialized(s.store) {
		s.emit(wire.DiscoroStatus{Status: wire.ComputationClosed})
		s.closeComputation()
	}
}

func anyInitialized(servers map[wire.Location]*fleet.Server) bool {
	for _, srv := range servers {
		if srv.Status == fleet.StatusInitialized {
			return true
		}
	}
	return false
}

func anyNodeInitialized(store *fleet.Store) bool {
	for _, n := range store.Nodes() {
		if n.Status == fleet.StatusInitialized {
			return true
		}
	}
	return false
}
