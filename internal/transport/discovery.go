package transport

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/wire"
)

const leaveTimeout = 2 * time.Second

// discovery wraps a hashicorp/memberlist cluster to implement spec.md
// §6's peer/peer_status broadcast-discovery contract (grounded on
// hashicorp-nomad's go.mod, which requires memberlist directly — the
// same library Consul and Nomad use for gossip-based membership).
//
// The gossip port (memberlist's own SWIM protocol port) is usually not
// the RPC port the rest of this Transport listens on, so each node
// advertises its RPC port in its memberlist node metadata and peers
// decode it back out on join/leave.
type discovery struct {
	ml      *memberlist.Memberlist
	rpcPort int
	logger  *zap.Logger

	online  chan wire.PeerOnline
	offline chan wire.PeerOffline
}

func newDiscovery(name, bindAddr string, gossipPort, rpcPort int, logger *zap.Logger) (*discovery, error) {
	d := &discovery{
		rpcPort: rpcPort,
		logger:  logger,
		online:  make(chan wire.PeerOnline, 64),
		offline: make(chan wire.PeerOffline, 64),
	}

	cfg := memberlist.DefaultLocalConfig()
	cfg.Name = name
	cfg.BindAddr = bindAddr
	cfg.BindPort = gossipPort
	cfg.AdvertisePort = gossipPort
	cfg.Delegate = d
	cfg.Events = d

	ml, err := memberlist.Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: create memberlist: %w", err)
	}
	d.ml = ml
	return d, nil
}

func (d *discovery) join(addr string) error {
	_, err := d.ml.Join([]string{addr})
	return err
}

func (d *discovery) leave() error {
	if d.ml == nil {
		return nil
	}
	if err := d.ml.Leave(leaveTimeout); err != nil {
		return err
	}
	return d.ml.Shutdown()
}

// --- memberlist.EventDelegate --------------------------------------------

func (d *discovery) NotifyJoin(n *memberlist.Node) {
	port := decodePort(n.Meta, n.Port)
	d.online <- wire.PeerOnline{
		Name:     n.Name,
		Location: wire.Location{Addr: n.Addr.String(), Port: int(port)},
	}
}

func (d *discovery) NotifyLeave(n *memberlist.Node) {
	port := decodePort(n.Meta, n.Port)
	d.offline <- wire.PeerOffline{
		Location: wire.Location{Addr: n.Addr.String(), Port: int(port)},
	}
}

func (d *discovery) NotifyUpdate(n *memberlist.Node) {
	// Metadata changes (e.g. a restarted agent rebinding its RPC port)
	// are treated as a fresh Online, same as the source's "rediscover on
	// every contact" behavior.
	d.NotifyJoin(n)
}

// --- memberlist.Delegate ---------------------------------------------------

func (d *discovery) NodeMeta(limit int) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(d.rpcPort))
	if len(buf) > limit {
		return nil
	}
	return buf
}

func (d *discovery) NotifyMsg([]byte)                           {}
func (d *discovery) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *discovery) LocalState(join bool) []byte                { return nil }
func (d *discovery) MergeRemoteState(buf []byte, join bool)     {}

func decodePort(meta []byte, fallback uint16) uint16 {
	if len(meta) < 2 {
		return fallback
	}
	return binary.BigEndian.Uint16(meta)
}
