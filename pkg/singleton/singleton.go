// Package singleton implements SingletonGuard: the advisory file lock
// that keeps two broker instances from ever running against the same
// project directory at once.
package singleton

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Guard holds an exclusive advisory lock on a project's broker.lock file.
type Guard struct {
	lock *flock.Flock
	path string
}

// Acquire tries to take an exclusive, non-blocking lock on
// <projectDir>/.agent-relay/broker.lock. ErrAlreadyRunning is returned if
// another process already holds it.
func Acquire(projectDir string) (*Guard, error) {
	dir := filepath.Join(projectDir, ".agent-relay")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	path := filepath.Join(dir, "broker.lock")
	lock := flock.New(path)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}

	return &Guard{lock: lock, path: path}, nil
}

// ErrAlreadyRunning is returned by Acquire when another broker process
// already holds the lock for this project directory.
var ErrAlreadyRunning = fmt.Errorf("another broker instance is already running for this project")

// Release drops the lock. Safe to call on a nil Guard.
func (g *Guard) Release() error {
	if g == nil || g.lock == nil {
		return nil
	}
	return g.lock.Unlock()
}

// Path returns the lock file path, for diagnostics.
func (g *Guard) Path() string {
	if g == nil {
		return ""
	}
	return g.path
}
