package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	setup    State = "setup"
	running  State = "running"
	paused   State = "paused"
	finished State = "finished"
)

func testMachine() *Machine {
	return New(setup, map[State][]State{
		setup:   {running},
		running: {paused, finished},
		paused:  {running, finished},
	})
}

func TestTransitions(t *testing.T) {
	m := testMachine()
	assert.Equal(t, setup, m.Current())

	require.NoError(t, m.To(running))
	require.NoError(t, m.To(paused))
	require.NoError(t, m.To(running))
	require.NoError(t, m.To(finished))
	assert.Equal(t, finished, m.Current())
}

func TestIllegalTransition(t *testing.T) {
	m := testMachine()

	require.Error(t, m.To(paused))
	assert.Equal(t, setup, m.Current())

	require.NoError(t, m.To(running))
	require.Error(t, m.To(setup))
}

func TestIs(t *testing.T) {
	m := testMachine()

	assert.True(t, m.Is(setup))
	assert.True(t, m.Is(running, setup))
	assert.False(t, m.Is(running, paused))
}

func TestForce(t *testing.T) {
	m := testMachine()

	// Force skips the table: a terminal state must be reachable from
	// anywhere.
	m.Force(finished)
	assert.Equal(t, finished, m.Current())
	require.Error(t, m.To(running))
}
