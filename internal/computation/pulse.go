package computation

import (
	"sync"
	"time"

	"github.com/ocurero/discoro/internal/wire"
)

// pulseWatcher implements spec.md §4.10's _pulse_proc as a push-driven
// watchdog: rather than blocking on a 2x-pulse_interval receive, it
// tracks the timestamp of the last "Observer.Pulse" call delivered by the
// scheduler and polls on the same cadence, declaring the scheduler dead
// once that timestamp goes stale by more than 5x pulse_interval.
type pulseWatcher struct {
	owner   *Computation
	onDead  func()
	self    wire.Location

	mu       sync.Mutex
	lastSeen time.Time
	started  bool
	quit     chan struct{}
}

func newPulseWatcher(owner *Computation, self wire.Location, onDead func()) *pulseWatcher {
	return &pulseWatcher{owner: owner, self: self, onDead: onDead, lastSeen: time.Now()}
}

func (p *pulseWatcher) touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

// start begins the watchdog loop. Safe to call more than once; only the
// first call takes effect, matching a Computation being scheduled once.
func (p *pulseWatcher) start(interval time.Duration) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.lastSeen = time.Now()
	p.quit = make(chan struct{})
	quit := p.quit
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(2 * interval)
		defer ticker.Stop()
		deadline := 5 * interval
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				p.mu.Lock()
				stale := time.Since(p.lastSeen) > deadline
				p.mu.Unlock()
				if stale {
					if p.onDead != nil {
						p.onDead()
					}
					return
				}
			}
		}
	}()
}

// stop terminates the watchdog loop ("'quit' terminates" in spec.md
// §4.10), a no-op if it was never started.
func (p *pulseWatcher) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quit != nil {
		select {
		case <-p.quit:
		default:
			close(p.quit)
		}
	}
}

// observerService is *Computation reinterpreted so its exported methods
// can be registered as the net/rpc service "Observer": the scheduler's
// timer processor calls Pulse on a tick, and (when a distinct status
// observer Location is registered) its status processor calls Status for
// every DiscoroStatus event.
type observerService Computation

func (o *observerService) owner() *Computation { return (*Computation)(o) }

// Pulse handles the scheduler's liveness ping. Besides resetting the
// local scheduler-death watchdog, it acks back with StatusReceiver.
// ClientPulse so the scheduler's own lastClientPulse advances
// (DESIGN.md "Post-review fixes") -- without this the scheduler has no way to learn
// that a healthy client is still receiving its pulses.
func (o *observerService) Pulse(args struct{}, reply *struct{}) error {
	c := o.owner()
	c.pulse.touch()

	c.mu.Lock()
	sched := c.schedLoc
	c.mu.Unlock()
	if !sched.IsZero() {
		_ = c.transport.Send(sched, StatusReceiverServiceName+".ClientPulse", wire.ClientPulse{ClientHost: c.transport.Self().Addr})
	}
	return nil
}

// Status handles a forwarded DiscoroStatus event. The default
// Computation has no observer callback registered; OnStatus installs
// one.
func (o *observerService) Status(status wire.DiscoroStatus, reply *struct{}) error {
	c := o.owner()
	c.mu.Lock()
	fn := c.onStatus
	c.mu.Unlock()
	if fn != nil {
		fn(status)
	}
	return nil
}
