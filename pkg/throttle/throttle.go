// Package throttle implements per-worker adaptive injection pacing based on
// recent delivery outcomes.
package throttle

import (
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/types"
)

const (
	// defaultMinDelay is the healthy-baseline minimum inter-injection delay.
	defaultMinDelay = 100 * time.Millisecond
	// defaultMaxDelay is the ceiling the delay is clamped to on repeated failure.
	defaultMaxDelay = 5 * time.Second
	// successesToHalve is how many consecutive successes before the delay halves.
	successesToHalve = 3
	// historySize is the length of the ring buffer of recent outcomes kept per worker.
	historySize = 10
)

// workerState is the per-worker throttle state. Throttle's lock guards
// the map that holds these structs; each workerState's own mu guards its
// contents. Callers go through Throttle's methods rather than touching a
// *workerState directly.
type workerState struct {
	mu                   sync.Mutex
	currentDelay         time.Duration
	consecutiveSuccesses int
	history              []types.Outcome
	nextAllowedAt         time.Time
}

// Throttle tracks one workerState per worker name.
type Throttle struct {
	mu       sync.RWMutex
	workers  map[string]*workerState
	minDelay time.Duration
	maxDelay time.Duration
}

// New creates a Throttle with the given min/max delay. Zero values fall
// back to the documented defaults (100ms / 5s).
func New(minDelay, maxDelay time.Duration) *Throttle {
	if minDelay <= 0 {
		minDelay = defaultMinDelay
	}
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	return &Throttle{
		workers:  make(map[string]*workerState),
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

func (t *Throttle) stateFor(worker string) *workerState {
	t.mu.RLock()
	ws, ok := t.workers[worker]
	t.mu.RUnlock()
	if ok {
		return ws
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if ws, ok := t.workers[worker]; ok {
		return ws
	}
	ws = &workerState{currentDelay: t.minDelay}
	t.workers[worker] = ws
	return ws
}

// NextAllowedAt returns the earliest instant the next injection into
// worker may proceed.
func (t *Throttle) NextAllowedAt(worker string) time.Time {
	ws := t.stateFor(worker)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.nextAllowedAt
}

// Record registers the outcome of an injection attempt and recomputes the
// worker's current delay:
//   - Failure or Timeout: delay doubles, clamped to maxDelay.
//   - Success: consecutive-success counter increments; every
//     successesToHalve successes, delay halves, floored at minDelay.
//     Any non-success outcome resets the counter.
func (t *Throttle) Record(worker string, outcome types.Outcome) {
	ws := t.stateFor(worker)

	ws.mu.Lock()
	defer ws.mu.Unlock()

	ws.history = append(ws.history, outcome)
	if len(ws.history) > historySize {
		ws.history = ws.history[len(ws.history)-historySize:]
	}

	switch outcome {
	case types.OutcomeFailure, types.OutcomeTimeout:
		ws.consecutiveSuccesses = 0
		ws.currentDelay *= 2
		if ws.currentDelay > t.maxDelay {
			ws.currentDelay = t.maxDelay
		}
	case types.OutcomeSuccess:
		ws.consecutiveSuccesses++
		if ws.consecutiveSuccesses >= successesToHalve {
			ws.consecutiveSuccesses = 0
			ws.currentDelay /= 2
			if ws.currentDelay < t.minDelay {
				ws.currentDelay = t.minDelay
			}
		}
	}

	ws.nextAllowedAt = time.Now().Add(ws.currentDelay)
}

// CurrentDelay returns the worker's current inter-injection delay, for metrics.
func (t *Throttle) CurrentDelay(worker string) time.Duration {
	ws := t.stateFor(worker)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.currentDelay
}

// Forget removes a worker's throttle state, called when a worker is released.
func (t *Throttle) Forget(worker string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.workers, worker)
}
