package computation

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ocurero/discoro/internal/config"
	"github.com/ocurero/discoro/internal/wire"
)

// fakeTransport is an in-process stand-in for internal/transport, the
// same pattern internal/scheduler's own tests use to avoid real sockets.
type fakeTransport struct {
	self        wire.Location
	schedulerOK bool
	runTerm     *wire.TerminationInfo // when set, ".Run" replies with this instead of a handle

	mu         sync.Mutex
	registered map[string]any
	delivered  []string
	files      []string
	closed     []string
	sent       []string
}

func newFakeTransport(self wire.Location) *fakeTransport {
	return &fakeTransport{self: self, schedulerOK: true, registered: make(map[string]any)}
}

func (f *fakeTransport) Self() wire.Location { return f.self }

func (f *fakeTransport) RegisterName(name string, rcvr any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[name] = rcvr
	return nil
}

func (f *fakeTransport) Locate(ctx context.Context, loc wire.Location, name string, timeout time.Duration) (wire.Location, bool, error) {
	if name == SchedulerServiceName && f.schedulerOK {
		return loc, true, nil
	}
	return wire.Location{}, false, nil
}

func (f *fakeTransport) Deliver(ctx context.Context, loc wire.Location, serviceMethod string, args, reply any, timeout time.Duration) error {
	f.mu.Lock()
	f.delivered = append(f.delivered, serviceMethod)
	f.mu.Unlock()

	switch serviceMethod {
	case SchedulerServiceName + ".Schedule":
		*reply.(*wire.ScheduleResp) = wire.ScheduleResp{Auth: "auth-1"}
	case SchedulerServiceName + ".Await":
		*reply.(*wire.AwaitResp) = wire.AwaitResp{Scheduled: true, Auth: "auth-1"}
	case SchedulerServiceName + ".Run":
		if f.runTerm != nil {
			*reply.(*wire.RunResp) = wire.RunResp{Term: f.runTerm}
		} else {
			*reply.(*wire.RunResp) = wire.RunResp{Handle: "task-1"}
		}
	case SchedulerServiceName + ".RunEach":
		*reply.(*wire.RunEachResp) = wire.RunEachResp{Handles: []string{"task-a", "task-b"}}
	case SchedulerServiceName + ".NodesList":
		*reply.(*wire.NodesListResp) = wire.NodesListResp{Addrs: []string{"10.0.0.1"}}
	case SchedulerServiceName + ".ServersList":
		*reply.(*wire.ServersListResp) = wire.ServersListResp{Locations: []string{"10.0.0.1:9100"}}
	case SchedulerServiceName + ".CloseComputation":
		f.mu.Lock()
		f.closed = append(f.closed, loc.String())
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeTransport) Send(loc wire.Location, serviceMethod string, args any) error {
	f.mu.Lock()
	f.sent = append(f.sent, serviceMethod)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendFile(ctx context.Context, loc wire.Location, localPath string, timeout time.Duration) error {
	f.mu.Lock()
	f.files = append(f.files, localPath)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) observer() *observerService {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered["Observer"].(*observerService)
}

func newTestComputation(t *testing.T, ft *fakeTransport, components ...Component) *Computation {
	t.Helper()
	c, err := New(Options{
		Transport:     ft,
		Logger:        zaptest.NewLogger(t),
		PulseCoro:     ft.Self(),
		PulseInterval: config.MinPulseInterval,
	}, components...)
	require.NoError(t, err)
	return c
}

func TestNewRejectsMissingPulseCoro(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	_, err := New(Options{Transport: ft})
	require.Error(t, err)
}

func TestNewDeduplicatesComponentsAndValidatesFiles(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	c := newTestComputation(t, ft, Func("f"), Func("f"), Func(""), File(path), File(path))
	require.Equal(t, []string{"f"}, c.funcNames)
	require.Equal(t, []string{path}, c.xferFiles)
}

func TestNewRejectsMissingFile(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	_, err := New(Options{Transport: ft, PulseCoro: ft.Self(), PulseInterval: config.MinPulseInterval}, File("/no/such/file"))
	require.Error(t, err)
}

func TestScheduleHandshakeSameHostSkipsTransfer(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	c := newTestComputation(t, ft, File(path))
	sched := wire.Location{Addr: "127.0.0.1", Port: 9500}

	require.NoError(t, c.Schedule(context.Background(), sched))
	require.Equal(t, "auth-1", c.Auth())
	require.Empty(t, ft.files, "same-host schedule must skip file transfer")
}

func TestScheduleHandshakeCrossHostTransfersFiles(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "10.0.0.2", Port: 9000})
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	c := newTestComputation(t, ft, File(path))
	sched := wire.Location{Addr: "10.0.0.1", Port: 9500}

	require.NoError(t, c.Schedule(context.Background(), sched))
	require.Equal(t, []string{path}, ft.files)
}

func TestScheduleFailureRunsClose(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	ft.schedulerOK = false

	c := newTestComputation(t, ft)
	err := c.Schedule(context.Background(), wire.Location{Addr: "127.0.0.1", Port: 9500})
	require.Error(t, err)
	require.Empty(t, c.Auth())
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	require.True(t, closed, "a failed Schedule must run Close")
}

func TestRunAtEmitsLocalCoroCreated(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	c := newTestComputation(t, ft)
	require.NoError(t, c.Schedule(context.Background(), wire.Location{Addr: "127.0.0.1", Port: 9500}))

	var got wire.DiscoroStatus
	c.OnStatus(func(s wire.DiscoroStatus) { got = s })

	handle, term, err := c.RunAt(context.Background(), "g", wire.RunTarget{Kind: wire.RunTargetAny}, nil, nil)
	require.NoError(t, err)
	require.Nil(t, term)
	require.Equal(t, "task-1", handle)
	require.Equal(t, wire.CoroCreated, got.Status)
	require.Equal(t, "task-1", got.Coro.Handle)
}

func TestRunAtReturnsTerminationWhenSpawnRacedTerminate(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	ft.runTerm = &wire.TerminationInfo{Status: wire.ServerClosed}
	c := newTestComputation(t, ft)
	require.NoError(t, c.Schedule(context.Background(), wire.Location{Addr: "127.0.0.1", Port: 9500}))

	var got wire.DiscoroStatus
	c.OnStatus(func(s wire.DiscoroStatus) { got = s })

	handle, term, err := c.RunAt(context.Background(), "g", wire.RunTarget{Kind: wire.RunTargetAny}, nil, nil)
	require.NoError(t, err)
	require.Empty(t, handle, "a raced spawn must not hand back a live-looking handle")
	require.NotNil(t, term)
	require.Equal(t, wire.ServerClosed, term.Status)
	require.Zero(t, got, "no local CoroCreated synthesis when the task never actually went live")
}

func TestRunEachReturnsOneHandlePerTarget(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	c := newTestComputation(t, ft)
	require.NoError(t, c.Schedule(context.Background(), wire.Location{Addr: "127.0.0.1", Port: 9500}))

	handles, terms, err := c.RunEach(context.Background(), "g", wire.RunEachNode, "", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"task-a", "task-b"}, handles)
	require.Nil(t, terms)
}

func TestNodesAndServersRequireScheduled(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	c := newTestComputation(t, ft)

	_, err := c.Nodes(context.Background())
	require.Error(t, err)
	_, err = c.Servers(context.Background())
	require.Error(t, err)

	require.NoError(t, c.Schedule(context.Background(), wire.Location{Addr: "127.0.0.1", Port: 9500}))
	nodes, err := c.Nodes(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1"}, nodes)

	servers, err := c.Servers(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1:9100"}, servers)
}

func TestCloseIsIdempotentAndStopsPulseWatcher(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	c := newTestComputation(t, ft)
	require.NoError(t, c.Schedule(context.Background(), wire.Location{Addr: "127.0.0.1", Port: 9500}))

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	require.Len(t, ft.closed, 1)

	c.pulse.mu.Lock()
	quit := c.pulse.quit
	c.pulse.mu.Unlock()
	require.NotNil(t, quit)
	select {
	case <-quit:
	default:
		t.Fatal("pulse watcher still running after Close")
	}
}

func TestObserverPulseUpdatesWatchdog(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	c := newTestComputation(t, ft)

	obs := ft.observer()
	require.NoError(t, obs.Pulse(struct{}{}, &struct{}{}))

	c.pulse.mu.Lock()
	seen := c.pulse.lastSeen
	c.pulse.mu.Unlock()
	require.WithinDuration(t, time.Now(), seen, time.Second)
}

func TestObserverPulseAcksSchedulerWhenScheduled(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	c := newTestComputation(t, ft)
	require.NoError(t, c.Schedule(context.Background(), wire.Location{Addr: "127.0.0.1", Port: 9500}))

	obs := ft.observer()
	require.NoError(t, obs.Pulse(struct{}{}, &struct{}{}))

	ft.mu.Lock()
	sent := append([]string(nil), ft.sent...)
	ft.mu.Unlock()
	require.Contains(t, sent, StatusReceiverServiceName+".ClientPulse")
}

func TestObserverPulseSkipsAckBeforeScheduled(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	c := newTestComputation(t, ft)
	_ = c

	obs := ft.observer()
	require.NoError(t, obs.Pulse(struct{}{}, &struct{}{}))

	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.Empty(t, ft.sent, "no scheduler to ack before Schedule succeeds")
}

func TestObserverStatusInvokesCallback(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	c := newTestComputation(t, ft)

	var got wire.DiscoroStatus
	c.OnStatus(func(s wire.DiscoroStatus) { got = s })

	obs := ft.observer()
	require.NoError(t, obs.Status(wire.DiscoroStatus{Status: wire.NodeInitialized, Host: "10.0.0.1"}, &struct{}{}))
	require.Equal(t, wire.NodeInitialized, got.Status)
	require.Equal(t, "10.0.0.1", got.Host)
}

func TestPulseWatcherDeclaresDeadSchedulerOnSilence(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9000})
	dead := make(chan struct{})
	c, err := New(Options{
		Transport:       ft,
		Logger:          zaptest.NewLogger(t),
		PulseCoro:       ft.Self(),
		PulseInterval:   config.MinPulseInterval,
		OnSchedulerDead: func() { close(dead) },
	})
	require.NoError(t, err)

	c.pulse.mu.Lock()
	c.pulse.lastSeen = time.Now().Add(-time.Hour)
	c.pulse.mu.Unlock()
	c.pulse.start(time.Millisecond)

	select {
	case <-dead:
	case <-time.After(time.Second):
		t.Fatal("pulse watcher did not declare the scheduler dead")
	}
}
