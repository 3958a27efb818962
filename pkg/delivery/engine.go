// Package delivery implements DeliveryEngine: the queue and state machine
// that drives a message from Queued through Injected, Verified, Active,
// or a terminal Failed state.
package delivery

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/dedup"
	"github.com/cuemby/warren/pkg/events"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/ptyworker"
	"github.com/cuemby/warren/pkg/registry"
	"github.com/cuemby/warren/pkg/throttle"
	"github.com/cuemby/warren/pkg/types"
)

const (
	defaultMaxAttempts    = 3
	defaultVerifyWindow   = 3 * time.Second
	defaultActivityWindow = 5 * time.Second
	defaultQueueCapacity  = 256
	scanInterval          = 50 * time.Millisecond
)

// Config holds the tunables documented in the timeout/retry table.
type Config struct {
	MaxAttempts         int
	VerifyWindow        time.Duration
	ActivityWindow      time.Duration
	QueueCapacity       int
	NoActivityIsFailure bool // default false: no-activity window expiry is implicit success
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.VerifyWindow <= 0 {
		c.VerifyWindow = defaultVerifyWindow
	}
	if c.ActivityWindow <= 0 {
		c.ActivityWindow = defaultActivityWindow
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	return c
}

// queue is one worker's strictly-FIFO pending delivery list, modulo the
// explicit priority bump (a priority>0 delivery is inserted at the front
// rather than appended, but never preempts an in-flight injection).
type queue struct {
	mu      sync.Mutex
	pending []*types.Delivery
}

// Engine is the heart of the broker: it owns every worker's delivery
// queue and drives each delivery's forward-only state machine on a
// shared reconciliation tick, the same ticker-driven scan shape used
// elsewhere in the broker for periodic work.
type Engine struct {
	cfg      Config
	registry *registry.Registry
	throttle *throttle.Throttle
	dedup    *dedup.Cache
	bus      *events.Broker

	mu     sync.Mutex
	queues map[string]*queue

	stopCh chan struct{}
}

// New creates an Engine wired to the given registry, throttle, dedup
// cache and event bus.
func New(cfg Config, reg *registry.Registry, th *throttle.Throttle, dc *dedup.Cache, bus *events.Broker) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		registry: reg,
		throttle: th,
		dedup:    dc,
		bus:      bus,
		queues:   make(map[string]*queue),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (e *Engine) Start() {
	go e.run()
}

// Stop halts the reconciliation loop. Any deliveries still pending are
// left in place; callers that want a clean drain should call CancelAll first.
func (e *Engine) Stop() {
	close(e.stopCh)
}

func (e *Engine) run() {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.scan()
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) queueFor(worker string) *queue {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[worker]
	if !ok {
		q = &queue{}
		e.queues[worker] = q
	}
	return q
}

// Enqueue adds a new Queued delivery to worker's FIFO queue, returning
// queue_full if the worker's pending list is already at capacity.
// Priority>0 inserts at the front of the queue rather than the back, but
// behind a head delivery that is already in flight (injected, verified,
// or queued again for a retry).
func (e *Engine) Enqueue(d *types.Delivery) error {
	q := e.queueFor(d.WorkerName)

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) >= e.cfg.QueueCapacity {
		return fmt.Errorf("queue_full: worker %q", d.WorkerName)
	}

	if d.Priority > 0 {
		at := 0
		if len(q.pending) > 0 && (q.pending[0].State != types.DeliveryQueued || q.pending[0].Attempt > 0) {
			at = 1
		}
		q.pending = append(q.pending[:at], append([]*types.Delivery{d}, q.pending[at:]...)...)
	} else {
		q.pending = append(q.pending, d)
	}

	e.publishReceipt(events.EventDeliveryQueued, d)
	metrics.DeliveriesTotal.WithLabelValues(string(types.DeliveryQueued)).Inc()
	return nil
}

// PendingCount returns the total number of non-terminal deliveries across
// every worker queue, for metrics.Collector.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	queues := make([]*queue, 0, len(e.queues))
	for _, q := range e.queues {
		queues = append(queues, q)
	}
	e.mu.Unlock()

	total := 0
	for _, q := range queues {
		q.mu.Lock()
		total += len(q.pending)
		q.mu.Unlock()
	}
	return total
}

func (e *Engine) scan() {
	e.mu.Lock()
	workers := make([]string, 0, len(e.queues))
	for name := range e.queues {
		workers = append(workers, name)
	}
	e.mu.Unlock()

	for _, name := range workers {
		e.scanWorker(name)
	}
}

func (e *Engine) scanWorker(name string) {
	q := e.queueFor(name)

	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	d := q.pending[0]
	q.mu.Unlock()

	w := e.registry.Get(name)
	if w == nil {
		if e.registry.Exists(name) {
			// Reattached but not yet adopted: the broker has no live PTY
			// handle for this entry, but it hasn't actually exited. Hold
			// the delivery at the head of the queue until adopt flips it
			// injectable, instead of failing it worker_exited.
			return
		}
		e.finishLocked(q, d, types.DeliveryFailed, types.ReasonWorkerExited)
		return
	}

	switch d.State {
	case types.DeliveryQueued:
		e.tryInject(q, d, w)
	case types.DeliveryInjected:
		e.checkVerification(q, d, w)
	case types.DeliveryVerified:
		e.checkActivity(q, d, w)
	default:
		// Active or Failed reached the front of the queue without being
		// dequeued; remove it defensively.
		e.dequeueHead(q, d)
	}
}

func (e *Engine) tryInject(q *queue, d *types.Delivery, w *ptyworker.Worker) {
	if !e.registry.Injectable(d.WorkerName) {
		return
	}
	if time.Now().Before(e.throttle.NextAllowedAt(d.WorkerName)) {
		return
	}

	if err := w.Inject(d.FormattedText); err != nil {
		e.throttle.Record(d.WorkerName, types.OutcomeFailure)
		log.WithDelivery(d.DeliveryID).Warn().Err(err).Msg("injection failed")
		return
	}

	d.Attempt++
	d.Transition(types.DeliveryInjected)
	e.publishReceipt(events.EventDeliveryInjected, d)
	metrics.DeliveriesTotal.WithLabelValues(string(types.DeliveryInjected)).Inc()
}

func (e *Engine) checkVerification(q *queue, d *types.Delivery, w *ptyworker.Worker) {
	injectedAt := d.StateHistory[types.DeliveryInjected]

	if w.VerifyBuffer().Contains(d.FormattedText) {
		e.throttle.Record(d.WorkerName, types.OutcomeSuccess)
		d.Transition(types.DeliveryVerified)
		e.publishReceipt(events.EventDeliveryVerified, d)
		metrics.DeliveriesTotal.WithLabelValues(string(types.DeliveryVerified)).Inc()
		metrics.NewTimerFrom(injectedAt).ObserveDuration(metrics.VerificationDuration)
		return
	}

	if time.Since(injectedAt) < e.cfg.VerifyWindow {
		return
	}

	// Verification window expired without a match.
	e.throttle.Record(d.WorkerName, types.OutcomeTimeout)

	if d.Attempt >= e.cfg.MaxAttempts {
		metrics.DeliveryAttempts.Observe(float64(d.Attempt))
		e.finishLocked(q, d, types.DeliveryFailed, types.ReasonVerificationTimeout)
		return
	}

	// Requeue for another attempt; stays at the head, strictly FIFO within
	// this worker, so no other delivery jumps ahead of a retry.
	d.Transition(types.DeliveryQueued)
}

func (e *Engine) checkActivity(q *queue, d *types.Delivery, w *ptyworker.Worker) {
	verifiedAt := d.StateHistory[types.DeliveryVerified]

	if w.ActivityLastSeen().After(verifiedAt) {
		metrics.DeliveryAttempts.Observe(float64(d.Attempt))
		e.finishLocked(q, d, types.DeliveryActive, "")
		return
	}

	if time.Since(verifiedAt) < e.cfg.ActivityWindow {
		return
	}

	if e.cfg.NoActivityIsFailure {
		e.finishLocked(q, d, types.DeliveryFailed, types.ReasonNoActivity)
		return
	}
	// Default policy: no-activity window expiry is an implicit success,
	// not a failure; a warning is enough to surface it.
	if e.bus != nil {
		e.bus.Publish(&events.Event{
			Type:    events.EventWarning,
			Message: fmt.Sprintf("no activity observed for delivery %s within window", d.DeliveryID),
		})
	}
	e.finishLocked(q, d, types.DeliveryActive, "")
}

func (e *Engine) finishLocked(q *queue, d *types.Delivery, state types.DeliveryState, reason types.FailureReason) {
	d.FailureReason = reason
	d.Transition(state)

	if state == types.DeliveryFailed {
		e.publishReceipt(events.EventDeliveryFailed, d)
		metrics.DeliveriesFailedTotal.WithLabelValues(string(reason)).Inc()
	} else {
		e.publishReceipt(events.EventDeliveryActive, d)
	}
	metrics.DeliveriesTotal.WithLabelValues(string(state)).Inc()

	e.dequeueHead(q, d)
}

func (e *Engine) dequeueHead(q *queue, d *types.Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) > 0 && q.pending[0] == d {
		q.pending = q.pending[1:]
	}
}

// CancelAll transitions every pending delivery of worker to
// Failed{cancelled}, or of every worker when worker is empty; used during
// release(name) and global shutdown.
func (e *Engine) CancelAll(worker string) {
	e.mu.Lock()
	var targets []*queue
	if worker == "" {
		for _, q := range e.queues {
			targets = append(targets, q)
		}
	} else if q, ok := e.queues[worker]; ok {
		targets = append(targets, q)
	}
	e.mu.Unlock()

	for _, q := range targets {
		q.mu.Lock()
		pending := q.pending
		q.pending = nil
		q.mu.Unlock()

		for _, d := range pending {
			d.FailureReason = types.ReasonCancelled
			d.Transition(types.DeliveryFailed)
			e.publishReceipt(events.EventDeliveryFailed, d)
			metrics.DeliveriesFailedTotal.WithLabelValues(string(types.ReasonCancelled)).Inc()
		}
	}
}

// Snapshot returns every pending delivery across every worker queue, for
// BrokerState to persist so a crash or restart can requeue in-flight work
// rather than silently dropping it.
func (e *Engine) Snapshot() []types.PersistedDelivery {
	e.mu.Lock()
	queues := make([]*queue, 0, len(e.queues))
	for _, q := range e.queues {
		queues = append(queues, q)
	}
	e.mu.Unlock()

	var out []types.PersistedDelivery
	for _, q := range queues {
		q.mu.Lock()
		for _, d := range q.pending {
			out = append(out, types.PersistedDelivery{
				DeliveryID:    d.DeliveryID,
				EventID:       d.EventID,
				WorkerName:    d.WorkerName,
				From:          d.From,
				Body:          d.Body,
				ThreadID:      d.ThreadID,
				Priority:      d.Priority,
				FormattedText: d.FormattedText,
				Attempt:       d.Attempt,
				State:         d.State,
				CreatedAt:     d.CreatedAt,
			})
		}
		q.mu.Unlock()
	}
	return out
}

// Restore re-enqueues deliveries persisted before a crash or restart.
// Every delivery resumes from Queued regardless of the state it was in
// when the snapshot was taken: after a restart there is no way to tell
// whether an injected-but-unverified delivery's bytes actually reached
// the child, so the safe choice is to retry rather than assume success.
// Attempt count carries over so a delivery that was already near
// MaxAttempts before the crash does not get a fresh budget.
func (e *Engine) Restore(persisted []types.PersistedDelivery) {
	for _, p := range persisted {
		d := types.NewDelivery(p.DeliveryID, p.EventID, p.WorkerName, p.From, p.Body, p.ThreadID, p.Priority, p.FormattedText)
		d.Attempt = p.Attempt
		d.CreatedAt = p.CreatedAt
		_ = e.Enqueue(d)
	}
}

func (e *Engine) publishReceipt(kind events.EventType, d *types.Delivery) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(&events.Event{
		Type: kind,
		Payload: types.DeliveryReceipt{
			DeliveryID: d.DeliveryID,
			EventID:    d.EventID,
			WorkerName: d.WorkerName,
			Reason:     d.FailureReason,
			TS:         time.Now().UnixMilli(),
		},
	})
}
