package computation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/discoerr"
	"github.com/ocurero/discoro/internal/wire"
)

// Schedule runs the full activation handshake of spec.md §4.10's
// schedule(): locate the scheduler, send schedule, transfer xfer files to
// its per-auth directory, then send await. Any failure along the way
// runs Close and returns the error, matching "any failure at any step
// runs close and returns -1".
func (c *Computation) Schedule(ctx context.Context, schedulerLoc wire.Location) (err error) {
	c.mu.Lock()
	if c.auth != "" {
		c.mu.Unlock()
		return fmt.Errorf("%w: computation already scheduled", discoerr.ErrValidation)
	}
	c.mu.Unlock()

	defer func() {
		if err != nil {
			c.Close(ctx)
		}
	}()

	if _, found, lerr := c.transport.Locate(ctx, schedulerLoc, SchedulerServiceName, c.tunables.Timeout); lerr != nil {
		return fmt.Errorf("computation: locate scheduler: %w", lerr)
	} else if !found {
		return fmt.Errorf("%w: scheduler not found at %s", discoerr.ErrProtocol, schedulerLoc)
	}

	spec := wire.SerializedComputation{
		FuncNames:     c.funcNames,
		DockerTasks:   c.dockerTasks,
		XferFileNames: c.xferFileNames(),
		XferFilePaths: append([]string(nil), c.xferFiles...),
		PulseCoro:     c.pulse.self,
		Observer:      c.observerLoc,
		PulseInterval: c.tunables.PulseInterval,
		ZombiePeriod:  c.tunables.ZombiePeriod,
		Timeout:       c.tunables.Timeout,
		ClientHost:    c.transport.Self().Addr,
	}

	var schedResp wire.ScheduleResp
	req := wire.ScheduleReq{Client: c.transport.Self(), Computation: spec}
	if derr := c.transport.Deliver(ctx, schedulerLoc, SchedulerServiceName+".Schedule", req, &schedResp, c.tunables.Timeout); derr != nil {
		return fmt.Errorf("computation: schedule: %w", derr)
	}
	if schedResp.Err != "" {
		return fmt.Errorf("%w: schedule rejected: %s", discoerr.ErrProtocol, schedResp.Err)
	}

	// Files transfer straight to the scheduler's per-auth directory;
	// skipped when client and scheduler share a host, matching
	// spec.md §4.10's same-host shortcut.
	if c.transport.Self().Addr != schedulerLoc.Addr {
		for _, path := range c.xferFiles {
			if serr := c.transport.SendFile(ctx, schedulerLoc, path, c.tunables.Timeout); serr != nil {
				return fmt.Errorf("computation: transfer %s: %w", path, serr)
			}
		}
	}

	var awaitResp wire.AwaitResp
	awaitReq := wire.AwaitReq{Auth: schedResp.Auth, ClientHost: c.transport.Self().Addr}
	if derr := c.transport.Deliver(ctx, schedulerLoc, SchedulerServiceName+".Await", awaitReq, &awaitResp, c.tunables.Timeout); derr != nil {
		return fmt.Errorf("computation: await: %w", derr)
	}
	if !awaitResp.Scheduled {
		return fmt.Errorf("%w: await rejected: %s", discoerr.ErrProtocol, awaitResp.Err)
	}

	c.mu.Lock()
	c.auth = awaitResp.Auth
	c.schedLoc = schedulerLoc
	c.mu.Unlock()

	c.pulse.start(c.tunables.PulseInterval)
	if c.logger != nil {
		c.logger.Info("computation: scheduled", zap.String("auth", c.auth), zap.String("scheduler", schedulerLoc.String()))
	}
	return nil
}

func (c *Computation) authAndSched() (string, wire.Location, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.auth == "" {
		return "", wire.Location{}, discoerr.ErrNoComputation
	}
	return c.auth, c.schedLoc, nil
}

// RunAt spawns funcName at target (a RunTargetAny target for least-loaded anywhere,
// a host string, or an exact Location per spec.md §4.4), emitting a local
// CoroCreated observation if a status callback is registered. A non-nil
// term return means the task raced its own termination ahead of this
// reply (spec.md §4.6 step 5 / §8 scenario 2): the returned handle is
// empty since no live task exists to return.
func (c *Computation) RunAt(ctx context.Context, funcName string, target wire.RunTarget, args, kwargs []byte) (string, *wire.TerminationInfo, error) {
	auth, sched, err := c.authAndSched()
	if err != nil {
		return "", nil, err
	}

	req := wire.RunReq{Auth: auth, Client: c.transport.Self(), FuncName: funcName, Args: args, Kwargs: kwargs, Target: target}
	var resp wire.RunResp
	if err := c.transport.Deliver(ctx, sched, SchedulerServiceName+".Run", req, &resp, c.tunables.Timeout); err != nil {
		return "", nil, fmt.Errorf("computation: run: %w", err)
	}
	if resp.Err != "" {
		return "", nil, fmt.Errorf("%w: %s", discoerr.ErrProtocol, resp.Err)
	}

	if resp.Handle != "" {
		c.mu.Lock()
		fn := c.onStatus
		c.mu.Unlock()
		if fn != nil {
			fn(wire.DiscoroStatus{Status: wire.CoroCreated, Coro: &wire.CoroInfo{Handle: resp.Handle, Args: args, Kwargs: kwargs}})
		}
	}
	return resp.Handle, resp.Term, nil
}

// RunEach spawns funcName once per target selected by scope (and host,
// for RunEachNodeServers), returning one handle per target in placement
// order; a "" entry marks a server that failed to spawn or — when the
// parallel terms entry at that index is non-nil — one that already
// terminated before this reply went out (spec.md §4.6 step 5).
func (c *Computation) RunEach(ctx context.Context, funcName string, scope wire.RunEachScope, host string, args, kwargs []byte) ([]string, []*wire.TerminationInfo, error) {
	auth, sched, err := c.authAndSched()
	if err != nil {
		return nil, nil, err
	}

	req := wire.RunEachReq{Auth: auth, Client: c.transport.Self(), FuncName: funcName, Args: args, Kwargs: kwargs, Scope: scope, Host: host}
	var resp wire.RunEachResp
	if err := c.transport.Deliver(ctx, sched, SchedulerServiceName+".RunEach", req, &resp, c.tunables.Timeout); err != nil {
		return nil, nil, fmt.Errorf("computation: run_each: %w", err)
	}
	if resp.Err != "" {
		return nil, nil, fmt.Errorf("%w: %s", discoerr.ErrProtocol, resp.Err)
	}
	return resp.Handles, resp.Terms, nil
}

// Nodes lists Initialized node addresses.
func (c *Computation) Nodes(ctx context.Context) ([]string, error) {
	auth, sched, err := c.authAndSched()
	if err != nil {
		return nil, err
	}
	var resp wire.NodesListResp
	if err := c.transport.Deliver(ctx, sched, SchedulerServiceName+".NodesList", wire.NodesListReq{Auth: auth}, &resp, c.tunables.Timeout); err != nil {
		return nil, fmt.Errorf("computation: nodes_list: %w", err)
	}
	return resp.Addrs, nil
}

// Servers lists Initialized server locations of Initialized nodes.
func (c *Computation) Servers(ctx context.Context) ([]string, error) {
	auth, sched, err := c.authAndSched()
	if err != nil {
		return nil, err
	}
	var resp wire.ServersListResp
	if err := c.transport.Deliver(ctx, sched, SchedulerServiceName+".ServersList", wire.ServersListReq{Auth: auth}, &resp, c.tunables.Timeout); err != nil {
		return nil, fmt.Errorf("computation: servers_list: %w", err)
	}
	return resp.Locations, nil
}

// Close tears down the computation: stops the pulse watchdog and, if
// scheduled, tells the scheduler to close or discard it. Safe to call
// more than once (the at-exit-hook and an explicit caller can both reach
// it, matching spec.md §4.10's "installs an at-exit hook that runs
// close").
func (c *Computation) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	auth, sched := c.auth, c.schedLoc
	c.mu.Unlock()

	c.pulse.stop()

	if auth == "" {
		return nil
	}
	var resp wire.CloseComputationResp
	if err := c.transport.Deliver(ctx, sched, SchedulerServiceName+".CloseComputation", wire.CloseComputationReq{Auth: auth}, &resp, c.tunables.Timeout); err != nil {
		return fmt.Errorf("computation: close_computation: %w", err)
	}
	return nil
}
