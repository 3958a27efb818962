package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/types"
)

func TestNew_DefaultsApplyOnZero(t *testing.T) {
	th := New(0, 0)
	assert.Equal(t, defaultMinDelay, th.minDelay)
	assert.Equal(t, defaultMaxDelay, th.maxDelay)
}

func TestRecord_FailureDoublesDelay(t *testing.T) {
	th := New(100*time.Millisecond, 5*time.Second)

	require.Equal(t, 100*time.Millisecond, th.CurrentDelay("W"))

	th.Record("W", types.OutcomeFailure)
	assert.Equal(t, 200*time.Millisecond, th.CurrentDelay("W"))

	th.Record("W", types.OutcomeTimeout)
	assert.Equal(t, 400*time.Millisecond, th.CurrentDelay("W"))
}

func TestRecord_DelayClampsAtMax(t *testing.T) {
	th := New(100*time.Millisecond, 500*time.Millisecond)

	for i := 0; i < 10; i++ {
		th.Record("W", types.OutcomeFailure)
	}
	assert.Equal(t, 500*time.Millisecond, th.CurrentDelay("W"))
}

func TestRecord_ThreeSuccessesHalveDelay(t *testing.T) {
	th := New(100*time.Millisecond, 5*time.Second)

	th.Record("W", types.OutcomeFailure) // 200ms
	th.Record("W", types.OutcomeFailure) // 400ms

	th.Record("W", types.OutcomeSuccess)
	th.Record("W", types.OutcomeSuccess)
	assert.Equal(t, 400*time.Millisecond, th.CurrentDelay("W"), "delay should not move until the third success")

	th.Record("W", types.OutcomeSuccess)
	assert.Equal(t, 200*time.Millisecond, th.CurrentDelay("W"))
}

func TestRecord_DelayFloorsAtMin(t *testing.T) {
	th := New(100*time.Millisecond, 5*time.Second)

	for i := 0; i < 9; i++ {
		th.Record("W", types.OutcomeSuccess)
	}
	assert.Equal(t, 100*time.Millisecond, th.CurrentDelay("W"))
}

func TestRecord_NonSuccessResetsStreak(t *testing.T) {
	th := New(100*time.Millisecond, 5*time.Second)

	th.Record("W", types.OutcomeFailure) // 200ms
	th.Record("W", types.OutcomeSuccess)
	th.Record("W", types.OutcomeSuccess)
	th.Record("W", types.OutcomeFailure) // resets streak, doubles to 400ms
	th.Record("W", types.OutcomeSuccess)
	assert.Equal(t, 400*time.Millisecond, th.CurrentDelay("W"), "streak reset means only one success recorded so far")
}

func TestNextAllowedAt_AdvancesAfterRecord(t *testing.T) {
	th := New(50*time.Millisecond, time.Second)

	before := time.Now()
	th.Record("W", types.OutcomeSuccess)
	assert.True(t, th.NextAllowedAt("W").After(before))
}

func TestWorkersAreIndependent(t *testing.T) {
	th := New(100*time.Millisecond, 5*time.Second)

	th.Record("A", types.OutcomeFailure)
	assert.Equal(t, 100*time.Millisecond, th.CurrentDelay("B"))
	assert.Equal(t, 200*time.Millisecond, th.CurrentDelay("A"))
}

func TestForget_RemovesState(t *testing.T) {
	th := New(100*time.Millisecond, 5*time.Second)
	th.Record("W", types.OutcomeFailure)
	th.Forget("W")
	assert.Equal(t, 100*time.Millisecond, th.CurrentDelay("W"), "a forgotten worker starts fresh")
}
