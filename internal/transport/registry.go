package transport

import "github.com/ocurero/discoro/internal/wire"

type lookupArgs struct {
	Name string
}

type lookupReply struct {
	Found bool
}

// registry answers Locate queries for names registered on this
// transport's own process, such as "ClientRPC" and "StatusReceiver" on
// the scheduler and "discoro_server" on each agent.
type registry struct {
	self  wire.Location
	names map[string]bool
}

func newRegistry(self wire.Location) *registry {
	return &registry{self: self, names: make(map[string]bool)}
}

func (r *registry) add(name string) {
	r.names[name] = true
}

// Lookup is the net/rpc-exported method backing Transport.Locate.
func (r *registry) Lookup(args lookupArgs, reply *lookupReply) error {
	reply.Found = r.names[args.Name]
	return nil
}
