package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/wire"
)

// agentService is *Agent reinterpreted so its exported methods can be
// registered as the net/rpc service named ServiceName ("discoro_server"),
// the same name the scheduler both Locates and dials methods against.
type agentService Agent

func (s *agentService) owner() *Agent { return (*Agent)(s) }

// Setup binds this agent to a computation: remembers auth, the
// scheduler's own Location (for heartbeats and out-of-band reports), the
// pulse_coro target, and the default request timeout. Replying non-zero
// aborts bootstrap on the scheduler side without side effects here.
func (s *agentService) Setup(req wire.SetupReq, reply *wire.SetupResp) error {
	a := s.owner()
	a.mu.Lock()
	a.auth = req.Auth
	a.schedulerLoc = req.Scheduler
	a.pulseCoro = req.PulseCoro
	a.timeout = req.Timeout
	a.mu.Unlock()

	a.startHeartbeat()
	reply.Code = 0
	return nil
}

// Run spawns FuncName against the pre-registered handler table and
// returns a task handle immediately; the handler itself runs to
// completion on its own goroutine and reports a Termination when done.
func (s *agentService) Run(req wire.RunOnServerReq, reply *wire.RunOnServerResp) error {
	a := s.owner()
	auth, ok := a.isSetUp()
	if !ok || req.Auth != auth {
		return nil // empty Handle: refused, matching "task-handle or null"
	}

	a.mu.Lock()
	handler, found := a.handlers[req.FuncName]
	a.mu.Unlock()
	if !found {
		a.logger.Warn("agent: run requested for unregistered func", zap.String("func", req.FuncName))
		return nil
	}

	handle := fmt.Sprintf("%s-%d", req.FuncName, len(req.Args)+len(req.Kwargs)+a.nextSeq())
	ctx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.running[handle] = &runningTask{cancel: cancel}
	a.ncoros++
	notify := req.Notify
	a.mu.Unlock()

	go a.runTask(ctx, handle, handler, req.Args, req.Kwargs, notify)

	reply.Handle = handle
	return nil
}

// Close tears down this agent's binding to the active computation:
// cancels every still-running task (cooperative, via context) and clears
// auth so a future Run is refused until the next Setup.
func (s *agentService) Close(req wire.CloseServerReq, reply *wire.CloseServerResp) error {
	a := s.owner()
	a.mu.Lock()
	if req.Auth != a.auth {
		a.mu.Unlock()
		reply.Ack = false
		return nil
	}
	for _, t := range a.running {
		t.cancel()
	}
	a.running = make(map[string]*runningTask)
	a.ncoros = 0
	a.auth = ""
	a.mu.Unlock()

	a.stopHeartbeat()
	reply.Ack = true
	return nil
}

// Terminate cooperatively cancels one running task's context, scored by
// the caller (spec.md §5 / the HTTP dashboard's terminate_coros) as
// success only when it returns 0.
func (s *agentService) Terminate(handle string, code *int) error {
	a := s.owner()
	a.mu.Lock()
	t, ok := a.running[handle]
	a.mu.Unlock()
	if !ok {
		*code = -1
		return nil
	}
	t.cancel()
	*code = 0
	return nil
}
