// Package config validates the numeric tunables shared by the scheduler,
// the reference agent and the Computation client, per spec.md §3 and §8.
// Construction mirrors the teacher's cobra-flag-backed config structs
// (cmd/root.go), but kept separate from the cobra binding itself so it
// can be unit tested without a command tree.
package config

import (
	"fmt"
	"time"

	"github.com/ocurero/discoro/internal/discoerr"
)

const (
	// MinPulseInterval is both the default and the floor for
	// pulse_interval (spec.md §3, §4.3).
	MinPulseInterval = 10 * time.Second
	// MaxPulseInterval is the ceiling for pulse_interval and the floor
	// for a non-null zombie_period.
	MaxPulseInterval = 60 * time.Second
	// DefaultZombiePeriod matches the CLI default in spec.md §6.
	DefaultZombiePeriod = 30 * time.Minute
)

// Scheduler holds the scheduler process's validated tunables (spec.md
// §6 CLI flags, minus the transport/TLS/debug knobs that belong to
// internal/transport and cmd wiring).
type Scheduler struct {
	IPAddr      string
	ExtIPAddr   string
	UDPPort     int
	Name        string
	DestPath    string
	MaxFileSize int64
	Secret      string
	Nodes       []string
	ZombiePeriod time.Duration
	Clean       bool
	Debug       bool
}

// Validate enforces spec.md §8's boundary behaviors for the scheduler.
func (c *Scheduler) Validate() error {
	if c.ZombiePeriod != 0 && c.ZombiePeriod < MaxPulseInterval {
		return fmt.Errorf("%w: zombie_period %s must be 0 or >= %s", discoerr.ErrValidation, c.ZombiePeriod, MaxPulseInterval)
	}
	if c.DestPath == "" {
		return fmt.Errorf("%w: dest_path is required", discoerr.ErrValidation)
	}
	if c.MaxFileSize < 0 {
		return fmt.Errorf("%w: max_file_size must be >= 0", discoerr.ErrValidation)
	}
	return nil
}

// Computation holds the client-side tunables of spec.md §3's Computation
// data model, validated at construction the way the source's constructor
// rejects out-of-range values (spec.md §7 ValidationError).
type Computation struct {
	PulseInterval time.Duration
	ZombiePeriod  time.Duration // 0 means "unset"
	Timeout       time.Duration
}

// WithDefaults fills zero fields with spec.md's defaults before
// Validate is called.
func (c *Computation) WithDefaults() {
	if c.PulseInterval == 0 {
		c.PulseInterval = MinPulseInterval
	}
	if c.Timeout == 0 {
		c.Timeout = MaxPulseInterval
	}
}

// Validate enforces spec.md §8's boundary behaviors for a Computation.
func (c *Computation) Validate() error {
	if c.PulseInterval < MinPulseInterval || c.PulseInterval > MaxPulseInterval {
		return fmt.Errorf("%w: pulse_interval %s out of [%s, %s]", discoerr.ErrValidation, c.PulseInterval, MinPulseInterval, MaxPulseInterval)
	}
	if c.ZombiePeriod != 0 && c.ZombiePeriod < MaxPulseInterval {
		return fmt.Errorf("%w: zombie_period %s must be 0 (unset) or >= %s", discoerr.ErrValidation, c.ZombiePeriod, MaxPulseInterval)
	}
	if c.Timeout < time.Second || c.Timeout > MaxPulseInterval {
		return fmt.Errorf("%w: timeout %s out of [1s, %s]", discoerr.ErrValidation, c.Timeout, MaxPulseInterval)
	}
	return nil
}

// ClampPulseInterval implements the Scheduler Main Loop's "adopt its
// pulse_interval if in range else MinPulseInterval" rule (spec.md §4.7).
func ClampPulseInterval(d time.Duration) time.Duration {
	if d < MinPulseInterval || d > MaxPulseInterval {
		return MinPulseInterval
	}
	return d
}
