package httpd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ocurero/discoro/internal/agent"
	"github.com/ocurero/discoro/internal/wire"
)

type fakeTransport struct {
	self wire.Location

	mu          sync.Mutex
	registered  map[string]any
	deliverCode int
	deliverErr  error
	delivered   []wire.Location
	methods     []string
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
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, loc)
	f.methods = append(f.methods, serviceMethod)
	if f.deliverErr != nil {
		return f.deliverErr
	}
	*reply.(*int) = f.deliverCode
	return nil
}

func (f *fakeTransport) observer() *observerService {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered["Observer"].(*observerService)
}

func newTestDashboard(t *testing.T, ft *fakeTransport) *Dashboard {
	t.Helper()
	d, err := New(Options{Transport: ft, Logger: zaptest.NewLogger(t), PollSec: 5})
	require.NoError(t, err)
	return d
}

func TestStatusEventsPopulateClusterStatus(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9600})
	d := newTestDashboard(t, ft)
	svc := ft.observer()

	serverLoc := wire.Location{Addr: "10.0.0.5", Port: 9100}
	require.NoError(t, svc.Status(wire.DiscoroStatus{Status: wire.ServerDiscovered, Location: &serverLoc}, &struct{}{}))
	require.NoError(t, svc.Status(wire.DiscoroStatus{Status: wire.ServerInitialized, Location: &serverLoc}, &struct{}{}))
	require.NoError(t, svc.Status(wire.DiscoroStatus{
		Status:   wire.CoroCreated,
		Location: &serverLoc,
		Handle:   "task-1",
		Coro:     &wire.CoroInfo{Handle: "task-1", StartedAt: 1},
	}, &struct{}{}))

	srv := httptest.NewServer(d.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/cluster_status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var views []nodeView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Len(t, views, 1)
	require.Equal(t, "10.0.0.5", views[0].Host)
	require.Equal(t, "NodeInitialized", views[0].Status)
	require.Len(t, views[0].Servers, 1)
	require.Equal(t, 1, views[0].Servers[0].CorosSubmitted)
	require.Contains(t, views[0].Servers[0].Coros, "task-1")
}

func TestClusterUpdatesClearsDirtySetOnRead(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9600})
	d := newTestDashboard(t, ft)
	svc := ft.observer()

	loc := wire.Location{Addr: "10.0.0.6", Port: 9100}
	require.NoError(t, svc.Status(wire.DiscoroStatus{Status: wire.ServerDiscovered, Location: &loc}, &struct{}{}))

	srv := httptest.NewServer(d.Router())
	defer srv.Close()

	var first []nodeView
	resp, err := http.Get(srv.URL + "/cluster_updates")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))
	resp.Body.Close()
	require.Len(t, first, 1)

	var second []nodeView
	resp, err = http.Get(srv.URL + "/cluster_updates")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&second))
	resp.Body.Close()
	require.Empty(t, second)
}

func TestServerClosedRemovesEmptyNode(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9600})
	d := newTestDashboard(t, ft)
	svc := ft.observer()

	loc := wire.Location{Addr: "10.0.0.7", Port: 9100}
	require.NoError(t, svc.Status(wire.DiscoroStatus{Status: wire.ServerDiscovered, Location: &loc}, &struct{}{}))
	require.NoError(t, svc.Status(wire.DiscoroStatus{Status: wire.ServerClosed, Location: &loc}, &struct{}{}))

	d.m.mu.Lock()
	_, ok := d.m.nodes[loc.Addr]
	d.m.mu.Unlock()
	require.False(t, ok)
}

func TestTerminateCorosCountsOnlyZeroCodeReplies(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9600})
	ft.deliverCode = 0
	d := newTestDashboard(t, ft)
	svc := ft.observer()

	loc := wire.Location{Addr: "10.0.0.8", Port: 9100}
	require.NoError(t, svc.Status(wire.DiscoroStatus{Status: wire.ServerDiscovered, Location: &loc}, &struct{}{}))
	require.NoError(t, svc.Status(wire.DiscoroStatus{
		Status: wire.CoroCreated, Location: &loc, Handle: "task-2",
		Coro: &wire.CoroInfo{Handle: "task-2"},
	}, &struct{}{}))

	srv := httptest.NewServer(d.Router())
	defer srv.Close()

	form := url.Values{"coro": {"task-2", "no-such-task"}}
	resp, err := http.PostForm(srv.URL+"/terminate_coros", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, 2, out["requested"])
	require.Equal(t, 1, out["terminated"])
	require.Equal(t, []wire.Location{loc}, ft.delivered)
}

func TestTerminateDeliversToAgentServiceName(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9600})
	d := newTestDashboard(t, ft)
	svc := ft.observer()

	loc := wire.Location{Addr: "10.0.0.9", Port: 9100}
	require.NoError(t, svc.Status(wire.DiscoroStatus{Status: wire.ServerDiscovered, Location: &loc}, &struct{}{}))
	require.NoError(t, svc.Status(wire.DiscoroStatus{
		Status: wire.CoroCreated, Location: &loc, Handle: "task-3",
		Coro: &wire.CoroInfo{Handle: "task-3"},
	}, &struct{}{}))

	require.True(t, d.terminate("task-3"))
	require.False(t, d.terminate("never-existed"))
	require.Equal(t, []string{agent.ServiceName + ".Terminate"}, ft.methods)
}

func TestSetPollSecClampsNegative(t *testing.T) {
	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9600})
	d := newTestDashboard(t, ft)

	srv := httptest.NewServer(d.Router())
	defer srv.Close()

	resp, err := http.PostForm(srv.URL+"/set_poll_sec", url.Values{"timeout": {"-5"}})
	require.NoError(t, err)
	resp.Body.Close()

	d.m.mu.Lock()
	got := d.m.pollSec
	d.m.mu.Unlock()
	require.Equal(t, 0, got)
}

func TestStaticIndexRendersPollSecTemplate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFile(dir+"/index.html", "poll={{.PollSec}}"))

	ft := newFakeTransport(wire.Location{Addr: "127.0.0.1", Port: 9600})
	d, err := New(Options{Transport: ft, Logger: zaptest.NewLogger(t), DocumentRoot: dir, PollSec: 7})
	require.NoError(t, err)

	srv := httptest.NewServer(d.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	require.True(t, strings.Contains(string(buf[:n]), "poll=7"))
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
