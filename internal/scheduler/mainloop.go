package scheduler

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/config"
	"github.com/ocurero/discoro/internal/fleet"
	"github.com/ocurero/discoro/internal/wire"
)

// handleSchedule implements spec.md §4.8's "schedule" request: mint a
// fresh client-facing auth, stage a per-auth directory under
// dest_path/discoro/scheduler, and remember the computation until the
// matching await arrives.
func (s *Scheduler) handleSchedule(req wire.ScheduleReq) wire.ScheduleResp {
	if req.Computation.PulseCoro.IsZero() {
		return wire.ScheduleResp{Err: "pulse_coro is required"}
	}

	auth := uuid.NewString()
	dir := filepath.Join(s.cfg.DestPath, "discoro", "scheduler", auth)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return wire.ScheduleResp{Err: "could not stage computation directory: " + err.Error()}
	}

	s.pending[auth] = &pendingComputation{
		auth:      auth,
		clientLoc: req.Client,
		spec:      req.Computation,
		dir:       dir,
	}
	s.pendingOrder = append(s.pendingOrder, auth)
	return wire.ScheduleResp{Auth: auth}
}

// onAwait implements spec.md §4.8's "await" request. If no computation is
// currently active, this one activates immediately and replies right
// away; otherwise it is left queued and its reply is sent later by
// promoteNextPending, matching spec.md §4.7's "block until
// __close_computation releases the state" / §8 scenario 5.
func (s *Scheduler) onAwait(req wire.AwaitReq, reply chan<- wire.AwaitResp) {
	pc, ok := s.pending[req.Auth]
	if !ok {
		reply <- wire.AwaitResp{Scheduled: false, Err: "unknown auth"}
		return
	}

	sameHost := s.transport.Self().Addr == pc.spec.ClientHost
	for i, name := range pc.spec.XferFileNames {
		// spec.md §4.8: files are only rewritten into the per-auth
		// directory for a cross-host client, which is the only case
		// SendFile actually staged them there; a same-host client
		// skipped that transfer, so its files must be verified at
		// their original path instead.
		path := filepath.Join(pc.dir, name)
		if sameHost && i < len(pc.spec.XferFilePaths) {
			path = pc.spec.XferFilePaths[i]
		}
		if _, err := os.Stat(path); err != nil {
			s.removePending(req.Auth)
			reply <- wire.AwaitResp{Scheduled: false, Err: "xfer file missing: " + name}
			return
		}
	}

	if pc.spec.ZombiePeriod == 0 {
		pc.spec.ZombiePeriod = s.cfg.ZombiePeriod
	}
	pc.awaited = true
	pc.awaitReply = reply

	if s.active == nil {
		s.removePending(req.Auth)
		s.activateComputation(pc)
		reply <- wire.AwaitResp{Scheduled: true, Auth: pc.auth}
	}
	// else: stays in s.pending, promoted (and replied to) by
	// promoteNextPending once the active computation closes.
}

// promoteNextPending implements spec.md §8 scenario 5's "on close, the
// second is promoted": the oldest awaited-but-queued computation, if any,
// becomes active.
func (s *Scheduler) promoteNextPending() {
	for _, auth := range s.pendingOrder {
		pc, ok := s.pending[auth]
		if !ok || !pc.awaited {
			continue
		}
		s.removePending(auth)
		s.activateComputation(pc)
		if pc.awaitReply != nil {
			pc.awaitReply <- wire.AwaitResp{Scheduled: true, Auth: pc.auth}
		}
		return
	}
}

func (s *Scheduler) removePending(auth string) {
	delete(s.pending, auth)
	for i, a := range s.pendingOrder {
		if a == auth {
			s.pendingOrder = append(s.pendingOrder[:i], s.pendingOrder[i+1:]...)
			break
		}
	}
}

// activateComputation implements spec.md §4.7's state transition: adopt
// pulse_interval (clamped), mint a fresh internal auth, reset any
// previously Closed/Ignore server so it re-bootstraps against the new
// computation.
func (s *Scheduler) activateComputation(pc *pendingComputation) {
	timeout := pc.spec.Timeout
	if timeout <= 0 {
		timeout = MsgTimeout
	}
	s.active = &activeComputation{
		clientAuth:      pc.auth,
		internalAuth:    uuid.NewString(),
		spec:            pc.spec,
		dir:             pc.dir,
		pulseInterval:   config.ClampPulseInterval(pc.spec.PulseInterval),
		zombiePeriod:    pc.spec.ZombiePeriod,
		timeout:         timeout,
		lastClientPulse: now(),
	}

	for _, node := range s.store.Nodes() {
		nodeTouched := false
		for _, srv := range s.store.OrderedServers(node) {
			if srv.AgentAddr == "" {
				continue
			}
			if srv.Status == fleet.StatusClosed || srv.Status == fleet.StatusIgnore {
				srv.Status = fleet.StatusDiscovered
				s.emitLocation(wire.ServerDiscovered, srv.Location)
				nodeTouched = true
			}
		}
		if nodeTouched && node.Status != fleet.StatusInitialized {
			node.Status = fleet.StatusDiscovered
			s.emitHost(wire.NodeDiscovered, node.Addr)
		}
	}

	for _, node := range s.store.Nodes() {
		for _, srv := range s.store.OrderedServers(node) {
			if srv.Status == fleet.StatusDiscovered {
				s.startBootstrap(srv.Location)
			}
		}
	}

	s.logger.Info("scheduler: computation activated",
		zap.String("client_auth", s.active.clientAuth), zap.Duration("pulse_interval", s.active.pulseInterval))
}

func (s *Scheduler) handleNodesList(req wire.NodesListReq) wire.NodesListResp {
	if s.active == nil || req.Auth != s.active.clientAuth {
		return wire.NodesListResp{}
	}
	var out []string
	for _, n := range s.store.InitializedNodes() {
		out = append(out, n.Addr)
	}
	return wire.NodesListResp{Addrs: out}
}

func (s *Scheduler) handleServersList(req wire.ServersListReq) wire.ServersListResp {
	if s.active == nil || req.Auth != s.active.clientAuth {
		return wire.ServersListResp{}
	}
	var out []string
	for _, n := range s.store.InitializedNodes() {
		for _, srv := range initializedServersOf(s.store, n) {
			out = append(out, srv.Location.String())
		}
	}
	return wire.ServersListResp{Locations: out}
}

// handleCloseComputation implements spec.md §4.8's "close_computation":
// either tears down the active computation, or pops and discards a
// still-queued one.
func (s *Scheduler) handleCloseComputation(req wire.CloseComputationReq) wire.CloseComputationResp {
	if s.active != nil && req.Auth == s.active.clientAuth {
		s.closeComputation()
		return wire.CloseComputationResp{}
	}
	if pc, ok := s.pending[req.Auth]; ok {
		s.removePending(req.Auth)
		if pc.awaitReply != nil {
			pc.awaitReply <- wire.AwaitResp{Scheduled: false, Err: "closed while queued"}
		}
		_ = os.RemoveAll(pc.dir)
	}
	return wire.CloseComputationResp{}
}
