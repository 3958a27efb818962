package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/types"
)

func TestLoad_MissingFileReturnsEmptySnapshot(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"))
	snap, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, currentVersion, snap.Version)
	assert.Empty(t, snap.Workers)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path)

	snap := types.PersistedState{
		Workers: []types.PersistedWorker{
			{Name: "A", PID: 123, CLI: types.CLIClaude},
		},
	}
	require.NoError(t, s.Save(snap))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Workers, 1)
	assert.Equal(t, "A", loaded.Workers[0].Name)
	assert.Equal(t, 123, loaded.Workers[0].PID)
}

func TestSaveThenLoad_RoundTripsPendingDeliveries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path)

	snap := types.PersistedState{
		PendingDeliveries: []types.PersistedDelivery{
			{
				DeliveryID: "d1",
				EventID:    "sdk_e1",
				WorkerName: "A",
				From:       "Lead",
				Body:       "hi",
				ThreadID:   "t1",
				Priority:   1,
				Attempt:    2,
			},
		},
	}
	require.NoError(t, s.Save(snap))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded.PendingDeliveries, 1)
	d := loaded.PendingDeliveries[0]
	assert.Equal(t, "d1", d.DeliveryID)
	assert.Equal(t, "hi", d.Body)
	assert.Equal(t, "t1", d.ThreadID)
	assert.Equal(t, 1, d.Priority)
	assert.Equal(t, 2, d.Attempt)
}

func TestSave_LeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := New(path)

	require.NoError(t, s.Save(types.PersistedState{}))

	entries, err := filepath.Glob(filepath.Join(dir, ".state-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type fakeSnapshotter struct {
	snap types.PersistedState
}

func (f fakeSnapshotter) Snapshot() types.PersistedState {
	return f.snap
}

func TestAutosaveLoop_PersistsOnTick(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path)

	src := fakeSnapshotter{snap: types.PersistedState{
		Workers: []types.PersistedWorker{{Name: "A"}},
	}}

	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.AutosaveLoop(src, 10*time.Millisecond, stopCh)
		close(done)
	}()

	require.Eventually(t, func() bool {
		loaded, err := s.Load()
		return err == nil && len(loaded.Workers) == 1
	}, time.Second, 10*time.Millisecond)

	close(stopCh)
	<-done
}
