package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/ocurero/discoro/internal/fleet"
	"github.com/ocurero/discoro/internal/wire"
)

// onRun implements spec.md §4.8's "run" request: validate auth, resolve a
// target server per §4.4, then dispatch the spawn asynchronously so the
// loop never blocks on the agent's reply.
func (s *Scheduler) onRun(req wire.RunReq, reply chan<- wire.RunResp) {
	if s.active == nil || req.Auth != s.active.clientAuth {
		reply <- wire.RunResp{Err: "no active computation or bad auth"}
		return
	}
	srv, ok := selectRunTarget(s.store, req.Target)
	if !ok {
		reply <- wire.RunResp{}
		return
	}
	s.dispatchSpawn(srv, req.Client, req.FuncName, req.Args, req.Kwargs, func(handle string, term *wire.TerminationInfo) {
		reply <- wire.RunResp{Handle: handle, Term: term}
	})
}

// onRunEach implements spec.md §4.8's "run_each": one spawn per server in
// scope, replies once every spawn has resolved.
func (s *Scheduler) onRunEach(req wire.RunEachReq, reply chan<- wire.RunEachResp) {
	if s.active == nil || req.Auth != s.active.clientAuth {
		reply <- wire.RunEachResp{Err: "no active computation or bad auth"}
		return
	}
	targets := selectRunEachTargets(s.store, req.Scope, req.Host)
	if len(targets) == 0 {
		reply <- wire.RunEachResp{Handles: nil}
		return
	}

	handles := make([]string, len(targets))
	terms := make([]*wire.TerminationInfo, len(targets))
	var pending sync.WaitGroup
	pending.Add(len(targets))
	var mu sync.Mutex
	remaining := len(targets)

	for i, srv := range targets {
		i, srv := i, srv
		s.dispatchSpawn(srv, req.Client, req.FuncName, req.Args, req.Kwargs, func(handle string, term *wire.TerminationInfo) {
			mu.Lock()
			handles[i] = handle
			terms[i] = term
			remaining--
			done := remaining == 0
			mu.Unlock()
			pending.Done()
			if done {
				reply <- wire.RunEachResp{Handles: handles, Terms: terms}
			}
		})
	}
}

// dispatchSpawn is the common path behind run and run_each: require the
// server Initialized, require a known parent node, then hand the blocking
// agent call to runSpawn (spec.md §4.6 steps 1-3).
func (s *Scheduler) dispatchSpawn(srv *fleet.Server, client wire.Location, funcName string, args, kwargs []byte, onDone func(handle string, term *wire.TerminationInfo)) {
	if srv.Status != fleet.StatusInitialized || s.active == nil {
		onDone("", nil)
		return
	}
	agentLoc, err := wire.ParseLocation(srv.AgentAddr)
	if err != nil {
		onDone("", nil)
		return
	}

	req := wire.RunOnServerReq{
		Auth:     s.active.internalAuth,
		FuncName: funcName,
		Args:     args,
		Kwargs:   kwargs,
		Client:   client,
		Notify:   s.transport.Self(),
	}
	timeout := s.active.timeout
	go s.runSpawn(agentLoc, req, timeout, srv.Location, onDone)
}

func (s *Scheduler) runSpawn(agentLoc wire.Location, req wire.RunOnServerReq, timeout time.Duration, loc wire.Location, done func(string, *wire.TerminationInfo)) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var resp wire.RunOnServerResp
	if err := s.transport.Deliver(ctx, agentLoc, AgentServiceName+".Run", req, &resp, timeout); err != nil {
		s.post(cmdSpawnResult{Loc: loc, Handle: "", OnDone: done})
		return
	}
	s.post(cmdSpawnResult{Loc: loc, Handle: resp.Handle, OnDone: done})
}

// onSpawnResult implements spec.md §4.6 step 5: reconcile against
// server.done before recording the new coro, matching the race law of
// spec.md §8 scenario 2. When the termination raced ahead of this reply,
// the caller gets that termination back instead of the handle — the task
// is already gone, so handing out its handle would let the caller believe
// a live task exists (the original's discoro.py:478-484, "rcoro = done").
func (s *Scheduler) onSpawnResult(c cmdSpawnResult) {
	server, node, ok := s.store.Server(c.Loc)

	handle := c.Handle
	var term *wire.TerminationInfo

	if ok && c.Handle != "" {
		if buffered, raced := server.Done[c.Handle]; raced {
			delete(server.Done, c.Handle)
			info := buffered.Info
			term = &info
			handle = ""
			s.emit(wire.DiscoroStatus{Status: info.Status, Location: &c.Loc, Handle: c.Handle, Term: &info})
		} else {
			server.Coros[c.Handle] = &fleet.RemoteTask{Handle: c.Handle, Args: nil, Kwargs: nil, StartedAt: now()}
			node.Ncoros++
			s.emit(wire.DiscoroStatus{
				Status:   wire.CoroCreated,
				Location: &c.Loc,
				Handle:   c.Handle,
				Coro:     &wire.CoroInfo{Handle: c.Handle, StartedAt: now().UnixNano()},
			})
		}
	}

	if c.OnDone != nil {
		c.OnDone(handle, term)
	}
}
