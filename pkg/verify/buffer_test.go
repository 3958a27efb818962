package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_ContainsAfterFeed(t *testing.T) {
	b := NewBuffer(0)
	b.Feed([]byte("Relay message from Lead [sdk_1]: hello\n"))

	assert.True(t, b.Contains("Relay message from Lead [sdk_1]: hello"))
	assert.False(t, b.Contains("not present"))
}

func TestBuffer_MatchAcrossMultipleChunks(t *testing.T) {
	b := NewBuffer(0)
	b.Feed([]byte("Relay message from "))
	b.Feed([]byte("Lead [sdk_2]: hi\n"))

	assert.True(t, b.Contains("Relay message from Lead [sdk_2]: hi"))
}

func TestBuffer_StripsANSIBeforeMatching(t *testing.T) {
	b := NewBuffer(0)
	b.Feed([]byte("\x1b[2K\x1b[1GRelay message from H [sdk_3]: ping\x1b[0m"))

	assert.True(t, b.Contains("Relay message from H [sdk_3]: ping"))
}

func TestBuffer_WindowIsBounded(t *testing.T) {
	b := NewBuffer(16)
	b.Feed([]byte("0123456789"))
	b.Feed([]byte("abcdefghij"))

	snap := b.Snapshot()
	require.Len(t, snap, 16)
	assert.Equal(t, "456789abcdefghij", string(snap))
}

func TestBuffer_ResetClearsWindow(t *testing.T) {
	b := NewBuffer(0)
	b.Feed([]byte("some output"))
	b.Reset()

	assert.False(t, b.Contains("some output"))
	assert.Empty(t, b.Snapshot())
}

func TestBuffer_EmptyNeedleNeverMatches(t *testing.T) {
	b := NewBuffer(0)
	b.Feed([]byte("anything"))
	assert.False(t, b.Contains(""))
}
