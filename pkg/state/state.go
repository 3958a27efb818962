// Package state implements BrokerState: the single component that owns
// the on-disk snapshot file, written atomically (periodically by
// AutosaveLoop and once at shutdown) so a crash mid-write never leaves a
// corrupt or partial file behind.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/types"
)

const currentVersion = 1

// Store owns the broker's persisted snapshot file. Only one task at a
// time ever holds the file handle: every write funnels through Save,
// guarded by mu, matching the single-writer-owns-the-resource pattern
// used elsewhere in the broker (events.Broker's mutex-guarded
// subscriber map, registry.Registry's exclusive-write lock).
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a Store backed by path (e.g. "<project>/.agent-relay/broker.state.json").
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted snapshot. A missing file is not an error: it
// returns an empty PersistedState, the expected shape for a first run.
func (s *Store) Load() (types.PersistedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return types.PersistedState{Version: currentVersion}, nil
	}
	if err != nil {
		return types.PersistedState{}, fmt.Errorf("read state: %w", err)
	}

	var snap types.PersistedState
	if err := json.Unmarshal(data, &snap); err != nil {
		return types.PersistedState{}, fmt.Errorf("parse state: %w", err)
	}
	return snap, nil
}

// Save atomically replaces the persisted snapshot: write to a temp file
// in the same directory, fsync it, then rename over the real path. The
// rename is atomic on the same filesystem, so readers never observe a
// partially written file.
func (s *Store) Save(snap types.PersistedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.Version = currentVersion

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encode state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// Snapshotter builds a PersistedState from live broker components.
type Snapshotter interface {
	Snapshot() types.PersistedState
}

// AutosaveLoop periodically pulls a fresh snapshot from src and persists
// it, logging (but not panicking on) write failures. Intended to run in
// its own goroutine for the lifetime of the broker process.
func (s *Store) AutosaveLoop(src Snapshotter, interval time.Duration, stopCh <-chan struct{}) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Save(src.Snapshot()); err != nil {
				log.Logger.Warn().Err(err).Msg("state: autosave failed")
			}
		case <-stopCh:
			return
		}
	}
}
