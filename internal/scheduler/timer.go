package scheduler

import (
	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/fleet"
	"github.com/ocurero/discoro/internal/wire"
)

// onPulseTick implements the per-tick half of spec.md §4.3: push a pulse
// to the client's pulse task and, if the client has gone quiet for more
// than 5x pulse_interval, declare it dead and close the computation.
// "Delivery fails" is measured by the client's own ClientPulse ack going
// stale rather than by Send's return value, since Send is fire-and-forget
// (internal/transport.Transport.Send never surfaces a connection error to
// its caller) and so could never detect a failed delivery on its own.
func (s *Scheduler) onPulseTick() {
	if s.active == nil {
		return
	}
	_ = s.transport.Send(s.active.spec.PulseCoro, "Observer.Pulse", struct{}{})

	deadline := 5 * s.active.pulseInterval
	if now().Sub(s.active.lastClientPulse) > deadline {
		s.logger.Warn("scheduler: client pulse-task unresponsive, closing computation",
			zap.String("location", s.active.spec.PulseCoro.String()), zap.Duration("silence", deadline))
		s.closeComputation()
	}
}

// onZombieAudit implements the "every 5x pulse_interval" server-liveness
// sweep of spec.md §4.3. The effective threshold is the computation's
// zombie_period (the client's value, or the scheduler's --zombie_period
// that onAwait fills in when the client sent 0), else, when both are 0,
// the fixed 5x pulse_interval multiplier.
func (s *Scheduler) onZombieAudit() {
	if s.active == nil {
		return
	}
	threshold := s.active.zombiePeriod
	if threshold == 0 {
		threshold = 5 * s.active.pulseInterval
	}

	for _, node := range s.store.Nodes() {
		for _, srv := range s.store.OrderedServers(node) {
			if srv.Status != fleet.StatusInitialized {
				continue
			}
			if now().Sub(srv.LastPulse) <= threshold {
				continue
			}
			s.logger.Warn("scheduler: server missed heartbeats, treating as zombie",
				zap.String("location", srv.Location.String()), zap.Duration("threshold", threshold))
			_ = s.closeServer(srv, node)
			if !anyInitialized(node.Servers) {
				node.Status = fleet.StatusClosed
				s.emitHost(wire.NodeClosed, node.Addr)
			}
		}
	}
}
