package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ocurero/discoro/internal/wire"
)

type fakeTransport struct {
	self wire.Location

	mu         sync.Mutex
	registered map[string]any
	sent       []sentCall
}

type sentCall struct {
	loc           wire.Location
	serviceMethod string
	args          any
}

func newFakeTransport(self wire.Location) *fakeTransport {
	return &fakeTransport{self: self, registered: make(map[string]any)}
}

func (f *fakeTransport) Self() wire.Location { return f.self }

func (f *fakeTransport) RegisterName(name string, rcvr any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[name] = rcvr
	return nil
}

func (f *fakeTransport) Deliver(ctx context.Context, loc wire.Location, serviceMethod string, args, reply any, timeout time.Duration) error {
	return nil
}

func (f *fakeTransport) Send(loc wire.Location, serviceMethod string, args any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCall{loc: loc, serviceMethod: serviceMethod, args: args})
	return nil
}

func (f *fakeTransport) calls(serviceMethod string) []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentCall
	for _, c := range f.sent {
		if c.serviceMethod == serviceMethod {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTransport) service() *agentService {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered[ServiceName].(*agentService)
}

func newTestAgent(t *testing.T, ft *fakeTransport) (*Agent, *agentService) {
	t.Helper()
	a, err := New(Options{Transport: ft, Logger: zaptest.NewLogger(t), HeartbeatPeriod: 10 * time.Millisecond})
	require.NoError(t, err)
	return a, ft.service()
}

func TestSetupBindsAuthAndStartsHeartbeat(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "10.0.0.1", Port: 9100})
	_, svc := newTestAgent(t, ft)

	schedLoc := wire.Location{Addr: "127.0.0.1", Port: 9000}
	var resp wire.SetupResp
	require.NoError(t, svc.Setup(wire.SetupReq{Scheduler: schedLoc, Auth: "auth-1", Timeout: time.Second}, &resp))
	require.Equal(t, 0, resp.Code)

	require.Eventually(t, func() bool {
		return len(ft.calls(StatusReceiverServiceName+".Heartbeat")) > 0
	}, time.Second, time.Millisecond)
}

func TestRunRejectsWrongAuth(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "10.0.0.1", Port: 9100})
	a, svc := newTestAgent(t, ft)
	a.RegisterFunc("f", func(ctx context.Context, args, kwargs []byte) ([]byte, error) { return nil, nil })

	var setupResp wire.SetupResp
	require.NoError(t, svc.Setup(wire.SetupReq{Scheduler: wire.Location{Addr: "127.0.0.1", Port: 9000}, Auth: "right-auth"}, &setupResp))

	var resp wire.RunOnServerResp
	require.NoError(t, svc.Run(wire.RunOnServerReq{Auth: "wrong-auth", FuncName: "f"}, &resp))
	require.Empty(t, resp.Handle)
}

func TestRunExecutesHandlerAndReportsTermination(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "10.0.0.1", Port: 9100})
	a, svc := newTestAgent(t, ft)
	called := make(chan struct{})
	a.RegisterFunc("f", func(ctx context.Context, args, kwargs []byte) ([]byte, error) {
		close(called)
		return []byte("ok"), nil
	})

	var setupResp wire.SetupResp
	require.NoError(t, svc.Setup(wire.SetupReq{Scheduler: wire.Location{Addr: "127.0.0.1", Port: 9000}, Auth: "auth-1"}, &setupResp))

	notify := wire.Location{Addr: "127.0.0.1", Port: 9500}
	var resp wire.RunOnServerResp
	require.NoError(t, svc.Run(wire.RunOnServerReq{Auth: "auth-1", FuncName: "f", Notify: notify}, &resp))
	require.NotEmpty(t, resp.Handle)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	require.Eventually(t, func() bool {
		calls := ft.calls(StatusReceiverServiceName + ".Termination")
		if len(calls) == 0 {
			return false
		}
		term := calls[0].args.(wire.Termination)
		return term.Handle == resp.Handle && string(term.Info.Result) == "ok"
	}, time.Second, time.Millisecond)
}

func TestRunReportsHandlerErrorAsTerminationErr(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "10.0.0.1", Port: 9100})
	a, svc := newTestAgent(t, ft)
	a.RegisterFunc("fail", func(ctx context.Context, args, kwargs []byte) ([]byte, error) {
		return nil, errors.New("boom")
	})

	var setupResp wire.SetupResp
	require.NoError(t, svc.Setup(wire.SetupReq{Auth: "auth-1"}, &setupResp))

	var resp wire.RunOnServerResp
	require.NoError(t, svc.Run(wire.RunOnServerReq{Auth: "auth-1", FuncName: "fail"}, &resp))

	require.Eventually(t, func() bool {
		calls := ft.calls(StatusReceiverServiceName + ".Termination")
		if len(calls) == 0 {
			return false
		}
		return calls[0].args.(wire.Termination).Info.Err == "boom"
	}, time.Second, time.Millisecond)
}

func TestCloseCancelsRunningTasksAndRejectsFurtherRun(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "10.0.0.1", Port: 9100})
	a, svc := newTestAgent(t, ft)
	started := make(chan struct{})
	a.RegisterFunc("long", func(ctx context.Context, args, kwargs []byte) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	var setupResp wire.SetupResp
	require.NoError(t, svc.Setup(wire.SetupReq{Auth: "auth-1"}, &setupResp))

	var runResp wire.RunOnServerResp
	require.NoError(t, svc.Run(wire.RunOnServerReq{Auth: "auth-1", FuncName: "long"}, &runResp))

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}

	var closeResp wire.CloseServerResp
	require.NoError(t, svc.Close(wire.CloseServerReq{Auth: "auth-1"}, &closeResp))
	require.True(t, closeResp.Ack)

	var resp wire.RunOnServerResp
	require.NoError(t, svc.Run(wire.RunOnServerReq{Auth: "auth-1", FuncName: "long"}, &resp))
	require.Empty(t, resp.Handle, "run must be refused once Close has cleared auth")
}

func TestTerminateCancelsSpecificTask(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "10.0.0.1", Port: 9100})
	a, svc := newTestAgent(t, ft)
	a.RegisterFunc("long", func(ctx context.Context, args, kwargs []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	var setupResp wire.SetupResp
	require.NoError(t, svc.Setup(wire.SetupReq{Auth: "auth-1"}, &setupResp))
	var runResp wire.RunOnServerResp
	require.NoError(t, svc.Run(wire.RunOnServerReq{Auth: "auth-1", FuncName: "long"}, &runResp))

	var code int
	require.NoError(t, svc.Terminate(runResp.Handle, &code))
	require.Equal(t, 0, code)

	require.NoError(t, svc.Terminate("no-such-handle", &code))
	require.Equal(t, -1, code)
}

func TestShutdownReportsClosed(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "10.0.0.1", Port: 9100})
	a, svc := newTestAgent(t, ft)
	schedLoc := wire.Location{Addr: "127.0.0.1", Port: 9000}
	var setupResp wire.SetupResp
	require.NoError(t, svc.Setup(wire.SetupReq{Scheduler: schedLoc, Auth: "auth-1"}, &setupResp))

	a.Shutdown()
	calls := ft.calls(StatusReceiverServiceName + ".Closed")
	require.Len(t, calls, 1)
}
