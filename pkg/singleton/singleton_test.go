package singleton

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_SecondCallFailsWhileFirstHeld(t *testing.T) {
	dir := t.TempDir()

	g1, err := Acquire(dir)
	require.NoError(t, err)
	defer g1.Release()

	_, err = Acquire(dir)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRelease_AllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	g1, err := Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, g1.Release())

	g2, err := Acquire(dir)
	require.NoError(t, err)
	defer g2.Release()
}

func TestRelease_NilGuardIsNoop(t *testing.T) {
	var g *Guard
	assert.NoError(t, g.Release())
}
