package fleet

import (
	"time"

	"github.com/ocurero/discoro/internal/wire"
)

// Server is a worker process at a Location, hosting zero or more
// RemoteTasks (spec.md §3).
type Server struct {
	Name      string
	Location  wire.Location
	Status    Status
	AgentAddr string // dial address of the remote server agent, once located
	Coros     map[string]*RemoteTask      // active tasks, keyed by handle
	Done      map[string]wire.Termination // terminations that raced ahead of a spawn ack
	XferFiles []string
	LastPulse time.Time
	Telemetry Telemetry
}

func newServer(name string, loc wire.Location) *Server {
	return &Server{
		Name:     name,
		Location: loc,
		Status:   StatusDiscovered,
		Coros:    make(map[string]*RemoteTask),
		Done:     make(map[string]wire.Termination),
	}
}

// RemoteTask is a unit of work hosted by a Server (spec.md §3).
type RemoteTask struct {
	Handle    string
	Args      []byte
	Kwargs    []byte
	StartedAt time.Time
}
