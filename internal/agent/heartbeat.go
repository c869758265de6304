package agent

import (
	"time"

	"github.com/ocurero/discoro/internal/wire"
)

// startHeartbeat begins this agent's periodic {ncoros, location} report
// to the scheduler's status processor (spec.md §4.3). Safe to call
// repeatedly across Setup calls; each call restarts the ticker against
// the latest schedulerLoc.
func (a *Agent) startHeartbeat() {
	a.mu.Lock()
	if a.heartbeatQuit != nil {
		close(a.heartbeatQuit)
	}
	quit := make(chan struct{})
	a.heartbeatQuit = quit
	period := a.heartbeatPeriod
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				a.sendHeartbeat()
			}
		}
	}()
}

func (a *Agent) sendHeartbeat() {
	a.mu.Lock()
	sched := a.schedulerLoc
	hb := wire.AgentHeartbeat{Location: a.transport.Self(), Ncoros: a.ncoros}
	a.mu.Unlock()

	if sched.IsZero() {
		return
	}
	_ = a.transport.Send(sched, StatusReceiverServiceName+".Heartbeat", hb)
}

func (a *Agent) stopHeartbeat() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.heartbeatQuit != nil {
		close(a.heartbeatQuit)
		a.heartbeatQuit = nil
	}
}

// Shutdown reports this agent as closed ahead of process exit, sparing
// the scheduler a zombie-audit timeout before it notices. Safe to call
// even if no computation is currently active.
func (a *Agent) Shutdown() {
	a.mu.Lock()
	sched := a.schedulerLoc
	a.mu.Unlock()
	if sched.IsZero() {
		return
	}
	_ = a.transport.Send(sched, StatusReceiverServiceName+".Closed", wire.AgentClosed{Location: a.transport.Self()})
	a.stopHeartbeat()
}
