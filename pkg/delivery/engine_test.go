package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/dedup"
	"github.com/cuemby/warren/pkg/events"
	"github.com/cuemby/warren/pkg/registry"
	"github.com/cuemby/warren/pkg/throttle"
	"github.com/cuemby/warren/pkg/types"
)

func newTestEngine(t *testing.T) (*Engine, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil, map[types.CLIKind]string{types.CLIOther: "/bin/cat"})
	th := throttle.New(10*time.Millisecond, time.Second)
	dc := dedup.New(0, 0)
	bus := events.NewBroker()
	bus.Start()
	t.Cleanup(bus.Stop)

	e := New(Config{
		VerifyWindow:   500 * time.Millisecond,
		ActivityWindow: 200 * time.Millisecond,
	}, reg, th, dc, bus)
	e.Start()
	t.Cleanup(e.Stop)
	return e, reg
}

func TestEnqueue_RejectsAtCapacity(t *testing.T) {
	reg := registry.New(nil, map[types.CLIKind]string{types.CLIOther: "/bin/cat"})
	e := New(Config{QueueCapacity: 1}, reg, throttle.New(0, 0), dedup.New(0, 0), nil)

	d1 := types.NewDelivery("d1", "e1", "W", "Lead", "hi", "", 0, "hi\n")
	require.NoError(t, e.Enqueue(d1))

	d2 := types.NewDelivery("d2", "e1", "W", "Lead", "hi", "", 0, "hi\n")
	assert.Error(t, e.Enqueue(d2))
}

func TestDelivery_ReachesActiveAgainstRealWorker(t *testing.T) {
	e, reg := newTestEngine(t)

	_, err := reg.Spawn(types.WorkerSpec{Name: "W1", CLI: types.CLIOther}, nil)
	require.NoError(t, err)
	defer reg.Release("W1", "cleanup", time.Second)

	d := types.NewDelivery("d1", "e1", "W1", "Lead", "hi", "", 0, "Relay message from Lead [e1]: hi\n")
	require.NoError(t, e.Enqueue(d))

	require.Eventually(t, func() bool {
		return d.State == types.DeliveryActive
	}, 3*time.Second, 10*time.Millisecond, "delivery should reach Active once /bin/cat echoes it back")

	assert.Equal(t, 0, e.PendingCount())
}

func TestScanWorker_FailsWhenWorkerMissing(t *testing.T) {
	e, _ := newTestEngine(t)

	d := types.NewDelivery("d1", "e1", "ghost", "Lead", "hi", "", 0, "hi\n")
	require.NoError(t, e.Enqueue(d))

	require.Eventually(t, func() bool {
		return d.State == types.DeliveryFailed
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, types.ReasonWorkerExited, d.FailureReason)
}

func TestCancelAll_FailsPendingDeliveries(t *testing.T) {
	reg := registry.New(nil, map[types.CLIKind]string{types.CLIOther: "/bin/cat"})
	e := New(Config{}, reg, throttle.New(0, 0), dedup.New(0, 0), nil)

	d1 := types.NewDelivery("d1", "e1", "W", "Lead", "hi", "", 0, "hi\n")
	d2 := types.NewDelivery("d2", "e2", "W", "Lead", "hi", "", 0, "hi\n")
	require.NoError(t, e.Enqueue(d1))
	require.NoError(t, e.Enqueue(d2))

	e.CancelAll("W")

	assert.Equal(t, types.DeliveryFailed, d1.State)
	assert.Equal(t, types.DeliveryFailed, d2.State)
	assert.Equal(t, types.ReasonCancelled, d1.FailureReason)
	assert.Equal(t, 0, e.PendingCount())
}

func TestScanWorker_HoldsPendingForReattachedUnadoptedWorker(t *testing.T) {
	e, reg := newTestEngine(t)

	reg.Reattach([]registry.ReattachCandidate{
		{Name: "ghost", PID: 1, CLI: types.CLIOther},
	})

	d := types.NewDelivery("d1", "e1", "ghost", "Lead", "hi", "", 0, "hi\n")
	require.NoError(t, e.Enqueue(d))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, types.DeliveryQueued, d.State, "reattached-but-unadopted worker must hold the delivery, not fail it worker_exited")
	assert.Equal(t, 1, e.PendingCount())
}

func TestSnapshotThenRestore_RequeuesPendingDeliveries(t *testing.T) {
	reg := registry.New(nil, map[types.CLIKind]string{types.CLIOther: "/bin/cat"})
	e1 := New(Config{}, reg, throttle.New(0, 0), dedup.New(0, 0), nil)

	d := types.NewDelivery("d1", "e1", "W", "Lead", "hi", "t1", 2, "Relay message from Lead [e1]: hi\n")
	d.Attempt = 1
	require.NoError(t, e1.Enqueue(d))

	snap := e1.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "d1", snap[0].DeliveryID)
	assert.Equal(t, "hi", snap[0].Body)
	assert.Equal(t, 2, snap[0].Priority)
	assert.Equal(t, 1, snap[0].Attempt)

	e2 := New(Config{}, reg, throttle.New(0, 0), dedup.New(0, 0), nil)
	e2.Restore(snap)

	assert.Equal(t, 1, e2.PendingCount())
}

func TestPendingCount_ReflectsQueueSize(t *testing.T) {
	reg := registry.New(nil, map[types.CLIKind]string{types.CLIOther: "/bin/cat"})
	e := New(Config{}, reg, throttle.New(0, 0), dedup.New(0, 0), nil)

	require.NoError(t, e.Enqueue(types.NewDelivery("d1", "e1", "W", "Lead", "hi", "", 0, "hi\n")))
	require.NoError(t, e.Enqueue(types.NewDelivery("d2", "e2", "W", "Lead", "hi", "", 0, "hi\n")))

	assert.Equal(t, 2, e.PendingCount())
}
