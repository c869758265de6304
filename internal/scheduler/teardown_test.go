package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ocurero/discoro/internal/config"
	"github.com/ocurero/discoro/internal/fleet"
	"github.com/ocurero/discoro/internal/wire"
)

func TestZombieAuditClosesStaleServer(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now = func() time.Time { return frozen }
	t.Cleanup(func() { now = time.Now })

	serverLoc := wire.Location{Addr: "10.0.0.9", Port: 9000}
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	ft.agentLoc = serverLoc

	s := New(ft, zaptest.NewLogger(t), config.Scheduler{DestPath: t.TempDir()})
	s.active = &activeComputation{
		clientAuth:      "client-auth",
		internalAuth:    "internal-auth",
		pulseInterval:   config.MinPulseInterval,
		lastClientPulse: frozen,
	}

	_, srv, _ := s.store.OnPeerOnline("n", serverLoc)
	srv.Status = fleet.StatusInitialized
	srv.AgentAddr = serverLoc.String()
	srv.LastPulse = frozen.Add(-10 * time.Minute)
	node, _ := s.store.Node(serverLoc.Addr)
	node.Status = fleet.StatusInitialized

	s.onZombieAudit()

	require.Equal(t, fleet.StatusClosed, srv.Status)
	require.Equal(t, fleet.StatusClosed, node.Status)
}

func TestZombieAuditIgnoresFreshServer(t *testing.T) {
	frozen := time.Now()
	now = func() time.Time { return frozen }
	t.Cleanup(func() { now = time.Now })

	serverLoc := wire.Location{Addr: "10.0.0.9", Port: 9000}
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	s := New(ft, zaptest.NewLogger(t), config.Scheduler{DestPath: t.TempDir()})
	s.active = &activeComputation{pulseInterval: config.MinPulseInterval}

	_, srv, _ := s.store.OnPeerOnline("n", serverLoc)
	srv.Status = fleet.StatusInitialized
	srv.LastPulse = frozen

	s.onZombieAudit()

	require.Equal(t, fleet.StatusInitialized, srv.Status)
}

func TestCloseComputationClearsStateAndSuppressesObserver(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	dir := t.TempDir()
	s := New(ft, zaptest.NewLogger(t), config.Scheduler{DestPath: dir})

	observer := wire.Location{Addr: "127.0.0.1", Port: 9999}
	s.active = &activeComputation{
		clientAuth: "auth",
		dir:        dir,
		spec:       wire.SerializedComputation{Observer: observer},
	}

	loc := wire.Location{Addr: "10.0.0.1", Port: 9000}
	_, srv, _ := s.store.OnPeerOnline("n", loc)
	srv.Status = fleet.StatusInitialized
	srv.Coros["t1"] = &fleet.RemoteTask{Handle: "t1"}
	node, _ := s.store.Node(loc.Addr)
	node.Status = fleet.StatusInitialized
	node.Ncoros = 1

	sentBefore := len(ft.sent)
	s.closeComputation()

	require.Nil(t, s.active)
	require.Empty(t, s.store.Nodes())
	// closeNode's ServerClosed/NodeClosed emits must not reach the
	// observer: it was nulled before teardown began.
	for _, m := range ft.sent[sentBefore:] {
		require.NotEqual(t, "Observer.Status", m)
	}
}

