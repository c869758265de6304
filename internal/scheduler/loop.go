package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/wire"
)

// Run starts the scheduler's event loop and the background goroutines
// that feed it (peer status fan-in, and one ticker that drives both the
// pulse and the zombie audit). It
// registers the client RPC service on t and blocks until ctx is
// cancelled or Close is called.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.transport.RegisterName("ClientRPC", (*clientRPCService)(s)); err != nil {
		return err
	}
	if err := s.transport.RegisterName("StatusReceiver", (*statusReceiver)(s)); err != nil {
		return err
	}

	online, offline, err := s.transport.PeerStatus()
	if err == nil {
		go s.fanInPeerStatus(ctx, online, offline)
	} else {
		s.logger.Warn("scheduler: peer discovery unavailable, running without gossip", zap.Error(err))
	}

	pulseTicker := time.NewTicker(s.pulseInterval())
	defer pulseTicker.Stop()
	go s.tick(ctx, pulseTicker)

	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.quit:
			return nil
		case cmd := <-s.cmds:
			s.dispatch(cmd)
		}
	}
}

// Close stops the event loop and waits for it to exit.
func (s *Scheduler) Close() {
	close(s.quit)
	<-s.done
}

func (s *Scheduler) pulseInterval() time.Duration {
	if s.active != nil && s.active.pulseInterval > 0 {
		return s.active.pulseInterval
	}
	return 10 * time.Second
}

func (s *Scheduler) fanInPeerStatus(ctx context.Context, online <-chan wire.PeerOnline, offline <-chan wire.PeerOffline) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-online:
			if !ok {
				return
			}
			s.post(cmdPeerOnline{Name: ev.Name, Loc: ev.Location})
		case ev, ok := <-offline:
			if !ok {
				return
			}
			s.post(cmdPeerOffline{Loc: ev.Location})
		}
	}
}

// tick drives both the pulse heartbeat and the zombie audit (every fifth
// tick) from a single ticker, a tick counter rather than a second
// independent timer. Run creates that ticker once, before any computation
// is active, so its period is the 10s default; it does not change to an
// active computation's pulse_interval.
func (s *Scheduler) tick(ctx context.Context, ticker *time.Ticker) {
	count := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count++
			s.post(cmdPulseTick{})
			if count%5 == 0 {
				s.post(cmdZombieAudit{})
			}
		}
	}
}

// inspect runs fn on the loop goroutine and blocks until it returns,
// giving tests race-free read access to loop-owned state.
func (s *Scheduler) inspect(fn func(*Scheduler)) {
	done := make(chan struct{})
	s.post(func() {
		fn(s)
		close(done)
	})
	<-done
}

func (s *Scheduler) post(cmd any) {
	select {
	case s.cmds <- cmd:
	case <-s.quit:
	}
}

// dispatch is the single switch every fleet mutation passes through.
func (s *Scheduler) dispatch(cmd any) {
	switch c := cmd.(type) {
	case cmdPeerOnline:
		s.onPeerOnline(c.Name, c.Loc)
	case cmdPeerOffline:
		s.onPeerOffline(c.Loc)
	case cmdTermination:
		s.onTermination(c.Term)
	case cmdAgentHeartbeat:
		s.onAgentHeartbeat(c.HB)
	case cmdAgentClosed:
		s.onAgentClosed(c.AC)
	case cmdPulseTick:
		s.onPulseTick()
	case cmdZombieAudit:
		s.onZombieAudit()
	case cmdClientPulse:
		if s.active != nil {
			s.active.lastClientPulse = now()
		}
	case cmdBootstrapResult:
		s.onBootstrapResult(c)
	case cmdSpawnResult:
		s.onSpawnResult(c)

	case cmdSchedule:
		c.Reply <- s.handleSchedule(c.Req)
	case cmdAwait:
		s.onAwait(c.Req, c.Reply)
	case cmdRun:
		s.onRun(c.Req, c.Reply)
	case cmdRunEach:
		s.onRunEach(c.Req, c.Reply)
	case cmdNodesList:
		c.Reply <- s.handleNodesList(c.Req)
	case cmdServersList:
		c.Reply <- s.handleServersList(c.Req)
	case cmdCloseComputation:
		c.Reply <- s.handleCloseComputation(c.Req)

	case func():
		// Used by tests to read loop-owned state without racing it;
		// production code never posts a bare closure.
		c()

	default:
		s.logger.Warn("scheduler: unknown internal command, dropped")
	}
}

// emit forwards a status event to the active computation's observer, a
// fire-and-forget send per spec.md §9's "weak subscription, drops are
// silent if the observer is gone".
func (s *Scheduler) emit(status wire.DiscoroStatus) {
	if s.active == nil || s.active.spec.Observer.IsZero() {
		return
	}
	_ = s.transport.Send(s.active.spec.Observer, "Observer.Status", status)
}

func (s *Scheduler) emitLocation(code wire.StatusCode, loc wire.Location) {
	s.emit(wire.DiscoroStatus{Status: code, Location: &loc})
}

func (s *Scheduler) emitHost(code wire.StatusCode, host string) {
	s.emit(wire.DiscoroStatus{Status: code, Host: host})
}
