// Package wire defines the types exchanged between the scheduler, the
// reference agent and computation clients: addressable locations, the
// stable status enum, and the tagged request/event variants that replace
// the source's untyped dict messages (see DESIGN.md's internal/wire section).
package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Location is a transport address of a task endpoint: a host and a port.
// Its string form is "addr:port" and is used as a map key throughout the
// fleet store, so two Locations with the same host/port always compare
// equal by value.
type Location struct {
	Addr string
	Port int
}

// String renders the canonical "addr:port" wire form.
func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.Addr, l.Port)
}

// IsZero reports whether l is the zero Location.
func (l Location) IsZero() bool {
	return l.Addr == "" && l.Port == 0
}

// ParseLocation parses the "addr:port" wire form produced by String.
func ParseLocation(s string) (Location, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return Location{}, fmt.Errorf("wire: malformed location %q", s)
	}
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return Location{}, fmt.Errorf("wire: malformed location %q: %w", s, err)
	}
	return Location{Addr: s[:idx], Port: port}, nil
}
