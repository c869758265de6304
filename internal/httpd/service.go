package httpd

import "github.com/ocurero/discoro/internal/wire"

// observerService is *Dashboard reinterpreted so its Status method can be
// registered as the net/rpc service "Observer", the same name
// internal/computation's observerService registers under: the scheduler
// never distinguishes a dashboard from a Computation client's own status
// observer, it only ever Sends to whatever Location a computation named
// as spec.Observer.
type observerService Dashboard

func (s *observerService) owner() *Dashboard { return (*Dashboard)(s) }

// Status folds one DiscoroStatus event into the dashboard's mirror.
func (s *observerService) Status(status wire.DiscoroStatus, reply *struct{}) error {
	s.owner().m.apply(status)
	return nil
}
