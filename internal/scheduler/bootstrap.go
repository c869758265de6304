package scheduler

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/fleet"
	"github.com/ocurero/discoro/internal/wire"
)

// startBootstrap implements spec.md §4.5, steps 1-2 and 5 (the parts that
// must run on the loop goroutine), then hands the blocking network work
// to runBootstrap.
func (s *Scheduler) startBootstrap(loc wire.Location) {
	server, node, ok := s.store.Server(loc)
	if !ok {
		return
	}
	if server.Status == fleet.StatusInitialized || server.Status == fleet.StatusIgnore {
		return
	}
	server.Status = fleet.StatusIgnore
	_ = node

	hasActive := s.active != nil
	timeout := s.activeTimeoutOr(MsgTimeout)

	var spec wire.SerializedComputation
	var internalAuth, dir string
	if hasActive {
		spec = s.active.spec
		internalAuth = s.active.internalAuth
		dir = s.active.dir
		s.emitLocation(wire.ServerDiscovered, loc)
	}

	self := s.transport.Self()
	go s.runBootstrap(loc, timeout, hasActive, spec, internalAuth, dir, self)
}

func (s *Scheduler) activeTimeoutOr(fallback time.Duration) time.Duration {
	if s.active != nil && s.active.timeout > 0 {
		return s.active.timeout
	}
	return fallback
}

// runBootstrap performs the blocking half of spec.md §4.5 (steps 3,
// 6-7): locate the agent, run setup, transfer xfer files. It touches no
// fleet state directly; every outcome is reported back to the loop via
// cmdBootstrapResult.
func (s *Scheduler) runBootstrap(loc wire.Location, timeout time.Duration, hasActive bool, spec wire.SerializedComputation, internalAuth, dir string, self wire.Location) {
	ctx := context.Background()

	agentLoc, found, err := s.transport.Locate(ctx, loc, AgentServiceName, timeout)
	if err != nil || !found {
		s.post(cmdBootstrapResult{Loc: loc, Phase: phaseLocateFailed, Err: err})
		return
	}
	if !hasActive {
		s.post(cmdBootstrapResult{Loc: loc, Phase: phaseLocated, AgentLoc: agentLoc})
		return
	}

	setupReq := wire.SetupReq{Scheduler: self, Auth: internalAuth, PulseCoro: spec.PulseCoro, Timeout: timeout}
	var setupResp wire.SetupResp
	if dErr := s.transport.Deliver(ctx, agentLoc, AgentServiceName+".Setup", setupReq, &setupResp, timeout); dErr != nil || setupResp.Code != 0 {
		s.post(cmdBootstrapResult{Loc: loc, Phase: phaseSetupFailed, AgentLoc: agentLoc, Err: dErr})
		return
	}

	// A same-host client never staged its files under dir (rpc.go's
	// SendFile skip); read straight from its original path instead,
	// mirroring onAwait's same-host verification in mainloop.go.
	sameHost := self.Addr == spec.ClientHost
	for i, name := range spec.XferFileNames {
		localPath := filepath.Join(dir, name)
		if sameHost && i < len(spec.XferFilePaths) {
			localPath = spec.XferFilePaths[i]
		}
		if sErr := s.transport.SendFile(ctx, agentLoc, localPath, timeout); sErr != nil {
			s.post(cmdBootstrapResult{Loc: loc, Phase: phaseXferFailed, AgentLoc: agentLoc, Err: sErr})
			return
		}
	}

	s.post(cmdBootstrapResult{Loc: loc, Phase: phaseInitialized, AgentLoc: agentLoc})
}

// onBootstrapResult applies the fleet mutation matching whichever phase
// runBootstrap finished at.
func (s *Scheduler) onBootstrapResult(c cmdBootstrapResult) {
	server, node, ok := s.store.Server(c.Loc)
	if !ok {
		return // peer went offline while bootstrap was in flight
	}

	switch c.Phase {
	case phaseLocateFailed:
		s.logger.Warn("scheduler: could not locate server agent", zap.String("location", c.Loc.String()), zap.Error(c.Err))
		_, removedNode, emptied, removed := s.store.OnPeerOffline(c.Loc)
		if removed && emptied {
			s.store.RemoveNode(removedNode.Addr)
		}

	case phaseLocated:
		server.Status = fleet.StatusDiscovered
		server.AgentAddr = c.AgentLoc.String()

	case phaseSetupFailed:
		server.AgentAddr = c.AgentLoc.String()
		s.logger.Warn("scheduler: server setup rejected, bootstrap aborted",
			zap.String("location", c.Loc.String()), zap.Error(c.Err))

	case phaseXferFailed:
		server.AgentAddr = c.AgentLoc.String()
		s.logger.Warn("scheduler: file transfer failed, closing server",
			zap.String("location", c.Loc.String()), zap.Error(c.Err))
		_ = s.closeServer(server, node)

	case phaseInitialized:
		server.AgentAddr = c.AgentLoc.String()
		server.Status = fleet.StatusInitialized
		server.LastPulse = now()
		if node.Status != fleet.StatusInitialized {
			node.Status = fleet.StatusInitialized
			s.emitHost(wire.NodeInitialized, node.Addr)
		}
		s.emitLocation(wire.ServerInitialized, c.Loc)
	}
}
