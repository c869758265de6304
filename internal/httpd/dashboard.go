package httpd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/agent"
	"github.com/ocurero/discoro/internal/wire"
)

// Transport is the narrow subset of internal/transport.Transport the
// dashboard depends on: enough to register itself as an Observer and to
// dial a server agent directly for a terminate request.
type Transport interface {
	Self() wire.Location
	RegisterName(name string, rcvr any) error
	Deliver(ctx context.Context, loc wire.Location, serviceMethod string, args, reply any, timeout time.Duration) error
}

// Options configures a Dashboard at construction.
type Options struct {
	Transport      Transport
	Logger         *zap.Logger
	DocumentRoot   string        // static files; "" disables GET /<path>
	PollSec        int           // initial JS poll interval, seconds
	RequestTimeout time.Duration // 0 uses DefaultRequestTimeout
}

// DefaultRequestTimeout bounds the terminate-coro Deliver call.
const DefaultRequestTimeout = 5 * time.Second

// Dashboard is the reference HTTP monitoring observer (SPEC_FULL.md
// §2.4): it mirrors DiscoroStatus events into its own locked state and
// answers the cluster_status/cluster_updates/terminate_coros contract
// spec.md §6 describes, without ever touching scheduler state directly.
type Dashboard struct {
	transport Transport
	logger    *zap.Logger
	m         *mirror

	documentRoot string
	timeout      time.Duration
}

// New constructs a Dashboard and registers it on opts.Transport as the
// "Observer" service, the same registration point internal/computation's
// status observer uses, so a scheduler's Send(spec.Observer,
// "Observer.Status", ...) reaches either kind of observer identically.
func New(opts Options) (*Dashboard, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	d := &Dashboard{
		transport:    opts.Transport,
		logger:       opts.Logger,
		m:            newMirror(opts.PollSec),
		documentRoot: opts.DocumentRoot,
		timeout:      opts.RequestTimeout,
	}
	if err := opts.Transport.RegisterName("Observer", (*observerService)(d)); err != nil {
		return nil, err
	}
	return d, nil
}

// Self reports this dashboard's own transport Location, which callers
// hand to a Computation or ScheduleReq as spec.Observer.
func (d *Dashboard) Self() wire.Location { return d.transport.Self() }

// terminate routes a cooperative cancel straight to the agent hosting
// handle, bypassing the scheduler (SPEC_FULL.md §2.4), and reports
// success only when the remote reply is 0.
func (d *Dashboard) terminate(handle string) bool {
	loc, ok := d.m.findCoro(handle)
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var code int
	if err := d.transport.Deliver(ctx, loc, agent.ServiceName+".Terminate", handle, &code, d.timeout); err != nil {
		d.logger.Warn("httpd: terminate delivery failed", zap.String("handle", handle), zap.Error(err))
		return false
	}
	return code == 0
}
