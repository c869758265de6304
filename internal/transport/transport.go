// Package transport implements the message-passing contract spec.md §6
// treats as an external collaborator. Point-to-point calls (send, deliver,
// locate, send_file) are served over net/rpc connections dialed per
// destination Location, the same shape golang-mastery/gossip and
// golang-mastery/remote-procedure-call use for their own hand-rolled RPC
// layers (an accept loop gated by a "closing chan chan error", net/rpc's
// ServeConn per accepted connection). Peer discovery and up/down
// notification (peer, peer_status) are layered on hashicorp/memberlist.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/discoerr"
	"github.com/ocurero/discoro/internal/wire"
)

// Transport is the concrete implementation of spec.md §6's contract that
// every scheduler/agent/client process owns one of, bound to its own
// Location.
type Transport struct {
	self     wire.Location
	logger   *zap.Logger
	server   *rpc.Server
	listener net.Listener

	registry *registry
	fileRecv *fileReceiver
	disco    *discovery

	closing chan chan error
}

// Options configures a Transport at construction.
type Options struct {
	// AdvertiseName is the value reported as the "name" of Online
	// events this transport's peer announcements carry.
	AdvertiseName string
	// DestPath is where incoming SendFile transfers land.
	DestPath string
	// MaxFileSize bounds a single incoming file transfer; 0 means
	// unbounded (spec.md §6 CLI flag --max_file_size).
	MaxFileSize int64
	// GossipBindPort is the memberlist bind port; 0 disables gossip
	// discovery for this transport (used by tests and one-off clients
	// that never call Peer/PeerStatus).
	GossipBindPort int
}

// New starts a Transport listening on "addr:port" for RPC and, if
// GossipBindPort is non-zero, joins a memberlist cluster for discovery.
func New(addr string, port int, opts Options, logger *zap.Logger) (*Transport, error) {
	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	self := wire.Location{Addr: addr, Port: l.Addr().(*net.TCPAddr).Port}

	t := &Transport{
		self:     self,
		logger:   logger,
		server:   rpc.NewServer(),
		listener: l,
		registry: newRegistry(self),
		closing:  make(chan chan error),
	}
	t.fileRecv = newFileReceiver(opts.DestPath, opts.MaxFileSize, logger)

	if err := t.server.RegisterName("Registry", t.registry); err != nil {
		l.Close()
		return nil, fmt.Errorf("transport: register registry: %w", err)
	}
	if err := t.server.RegisterName("FileTransfer", t.fileRecv); err != nil {
		l.Close()
		return nil, fmt.Errorf("transport: register file transfer: %w", err)
	}

	if opts.GossipBindPort != 0 {
		name := opts.AdvertiseName
		if name == "" {
			name = self.String()
		}
		disco, err := newDiscovery(name, addr, opts.GossipBindPort, self.Port, logger)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("transport: discovery: %w", err)
		}
		t.disco = disco
	}

	go t.acceptLoop()
	return t, nil
}

// Self returns this transport's own Location.
func (t *Transport) Self() wire.Location { return t.self }

// RegisterName exposes rcvr's exported methods under name at this
// transport's own Location, and remembers the binding so Locate can
// answer lookups for it.
func (t *Transport) RegisterName(name string, rcvr any) error {
	if err := t.server.RegisterName(name, rcvr); err != nil {
		return fmt.Errorf("transport: register %s: %w", name, err)
	}
	t.registry.add(name)
	return nil
}

// acceptLoop mirrors golang-mastery/gossip's Gossiper.serveLoop: accept
// and serve run as two select cases so a pending Accept never blocks
// Close from observing the shutdown signal.
func (t *Transport) acceptLoop() {
	accepting := make(chan struct{}, 1)
	serving := make(chan net.Conn, 1)
	accepting <- struct{}{}
	for {
		select {
		case errCh := <-t.closing:
			errCh <- t.listener.Close()
			return
		case <-accepting:
			go func() {
				conn, err := t.listener.Accept()
				if err != nil {
					return
				}
				serving <- conn
			}()
		case conn := <-serving:
			go t.server.ServeConn(conn)
			accepting <- struct{}{}
		}
	}
}

// Close shuts down the RPC listener and, if active, leaves the gossip
// cluster.
func (t *Transport) Close() error {
	errCh := make(chan error)
	t.closing <- errCh
	err := <-errCh
	if t.disco != nil {
		if dErr := t.disco.leave(); dErr != nil && err == nil {
			err = dErr
		}
	}
	return err
}

// Deliver calls serviceMethod ("Service.Method") at loc and blocks for a
// reply, implementing spec.md §6's "deliver(msg, timeout) -> int returns
// 1 on remote acknowledgment within timeout". Go's richer return values
// make the int encoding unnecessary: callers get the typed reply or an
// error wrapping discoerr.ErrTransportTimeout.
func (t *Transport) Deliver(ctx context.Context, loc wire.Location, serviceMethod string, args, reply any, timeout time.Duration) error {
	client, err := rpc.Dial("tcp", loc.String())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", discoerr.ErrTransportTimeout, loc, err)
	}
	defer client.Close()

	call := client.Go(serviceMethod, args, reply, make(chan *rpc.Call, 1))
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %s to %s", discoerr.ErrTransportTimeout, serviceMethod, loc)
	case res := <-call.Done:
		if res.Error != nil {
			return fmt.Errorf("%w: %s to %s: %v", discoerr.ErrProtocol, serviceMethod, loc, res.Error)
		}
		return nil
	}
}

// Send is Deliver's non-blocking counterpart (spec.md §6 "send(msg) ->
// int non-blocking, returns 0 on local enqueue success"): it fires the
// call in the background and never surfaces a transport timeout to the
// caller, matching source semantics where send() does not wait for
// delivery.
func (t *Transport) Send(loc wire.Location, serviceMethod string, args any) error {
	go func() {
		var discard struct{}
		_ = t.Deliver(context.Background(), loc, serviceMethod, args, &discard, 30*time.Second)
	}()
	return nil
}

// Locate asks the process at loc whether it has a service registered
// under name, implementing spec.md §6's "locate(name, location?,
// timeout) -> handle | null". A zero-value loc is a caller error here:
// this implementation only supports locating a name at a known address
// (the scheduler and client always call Locate with a target Location —
// the scheduler's well-known name is given out-of-band via --ip_addr and
// the agent's well-known name is looked up at the location the peer-up
// event reported).
func (t *Transport) Locate(ctx context.Context, loc wire.Location, name string, timeout time.Duration) (wire.Location, bool, error) {
	var reply lookupReply
	err := t.Deliver(ctx, loc, "Registry.Lookup", lookupArgs{Name: name}, &reply, timeout)
	if err != nil {
		return wire.Location{}, false, err
	}
	if !reply.Found {
		return wire.Location{}, false, nil
	}
	return loc, true, nil
}

// SendFile transfers localPath to loc's configured DestPath, chunked
// over the same net/rpc connection style as Deliver (spec.md §6
// "send_file(location, path, dir?, timeout) -> int negative on
// failure").
func (t *Transport) SendFile(ctx context.Context, loc wire.Location, localPath string, timeout time.Duration) error {
	transferID := uuid.NewString()
	name := filepath.Base(localPath)
	deliver := func(serviceMethod string, args, reply any) error {
		return t.Deliver(ctx, loc, serviceMethod, args, reply, timeout)
	}
	return sendChunks(deliver, transferID, name, localPath)
}

// Peer initiates discovery against addr (spec.md §6 "peer(addr,
// broadcast?)"). broadcast is accepted for contract compatibility; this
// memberlist-backed implementation always gossips to the whole cluster
// once joined, so it has no distinct unicast mode.
func (t *Transport) Peer(addr string, broadcast bool) error {
	if t.disco == nil {
		return fmt.Errorf("transport: discovery not enabled on this instance")
	}
	return t.disco.join(addr)
}

// PeerStatus subscribes to peer up/down notifications (spec.md §6
// "peer_status(subscriber)"). There is exactly one subscriber in this
// system, the scheduler's status processor, matching the single-consumer
// assumption in spec.md §5.
func (t *Transport) PeerStatus() (<-chan wire.PeerOnline, <-chan wire.PeerOffline, error) {
	if t.disco == nil {
		return nil, nil, fmt.Errorf("transport: discovery not enabled on this instance")
	}
	return t.disco.online, t.disco.offline, nil
}
