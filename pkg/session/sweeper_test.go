package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperStartStop(t *testing.T) {
	r := testRegistry(time.Minute)
	sw := NewSweeper(r, time.Second, zerolog.Nop())

	assert.False(t, sw.Running())

	require.NoError(t, sw.Start())
	assert.True(t, sw.Running())

	assert.Error(t, sw.Start(), "double start must be rejected")

	sw.Stop()
	assert.False(t, sw.Running())

	// Stop on a stopped sweeper is a no-op.
	sw.Stop()
}

func TestSweeperRunsSweep(t *testing.T) {
	r := testRegistry(10 * time.Millisecond)
	r.Create("client_stale", nil)

	sw := NewSweeper(r, time.Second, zerolog.Nop())
	require.NoError(t, sw.Start())
	defer sw.Stop()

	require.Eventually(t, func() bool {
		return r.Count() == 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestSweeperDefaultInterval(t *testing.T) {
	sw := NewSweeper(testRegistry(time.Minute), 0, zerolog.Nop())
	assert.Equal(t, DefaultSweepInterval, sw.interval)
}
