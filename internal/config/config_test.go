package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputationValidatePulseIntervalBounds(t *testing.T) {
	c := &Computation{PulseInterval: MinPulseInterval - time.Second, Timeout: time.Second}
	require.Error(t, c.Validate())

	c = &Computation{PulseInterval: MaxPulseInterval + time.Second, Timeout: time.Second}
	require.Error(t, c.Validate())

	c = &Computation{PulseInterval: MinPulseInterval, Timeout: time.Second}
	require.NoError(t, c.Validate())
}

func TestComputationValidateZombiePeriod(t *testing.T) {
	c := &Computation{PulseInterval: MinPulseInterval, Timeout: time.Second, ZombiePeriod: time.Second}
	require.Error(t, c.Validate())

	c.ZombiePeriod = 0
	require.NoError(t, c.Validate())

	c.ZombiePeriod = MaxPulseInterval
	require.NoError(t, c.Validate())
}

func TestComputationValidateTimeoutBounds(t *testing.T) {
	c := &Computation{PulseInterval: MinPulseInterval, Timeout: 0}
	require.Error(t, c.Validate())

	c = &Computation{PulseInterval: MinPulseInterval, Timeout: MaxPulseInterval + time.Second}
	require.Error(t, c.Validate())
}

func TestClampPulseInterval(t *testing.T) {
	require.Equal(t, MinPulseInterval, ClampPulseInterval(time.Millisecond))
	require.Equal(t, MinPulseInterval, ClampPulseInterval(time.Hour))
	require.Equal(t, 2*MinPulseInterval, ClampPulseInterval(2*MinPulseInterval))
}

func TestSchedulerValidateZombiePeriod(t *testing.T) {
	s := &Scheduler{DestPath: "/tmp/x", ZombiePeriod: time.Second}
	require.Error(t, s.Validate())

	s.ZombiePeriod = 0
	require.NoError(t, s.Validate())
}
