package types

import (
	"time"
)

// CLIKind identifies which agent binary a worker wraps.
type CLIKind string

const (
	CLIClaude CLIKind = "claude"
	CLICodex  CLIKind = "codex"
	CLIGemini CLIKind = "gemini"
	CLIAider  CLIKind = "aider"
	CLIGoose  CLIKind = "goose"
	CLIOther  CLIKind = "other"
)

// WorkerSpec describes how a worker should be spawned.
type WorkerSpec struct {
	Name       string
	CLI        CLIKind
	Args       []string
	Task       string
	Channels   []string
	Model      string
	Cwd        string
	Team       string
	ShadowOf   string
	ShadowMode string
}

// WorkerStatus is the lifecycle state of a worker process as seen by the registry.
type WorkerStatus string

const (
	WorkerStarting   WorkerStatus = "starting"
	WorkerReady      WorkerStatus = "ready"
	WorkerReattached WorkerStatus = "reattached"
	WorkerReleasing  WorkerStatus = "releasing"
	WorkerExited     WorkerStatus = "exited"
)

// AgentInfo is the read-only view of a worker returned by list_agents and get_metrics.
type AgentInfo struct {
	Name              string       `json:"name"`
	CLI               CLIKind      `json:"cli"`
	PID               int          `json:"pid"`
	Status            WorkerStatus `json:"status"`
	Model             string       `json:"model,omitempty"`
	Channels          []string     `json:"channels,omitempty"`
	SpawnedAt         time.Time    `json:"spawned_at"`
	ActivityLastSeen  time.Time    `json:"activity_last_seen,omitempty"`
	PendingDeliveries int          `json:"pending_deliveries"`
	Reattached        bool         `json:"reattached"`
	Injectable        bool         `json:"injectable"`
}

// DeliveryState is a stage in the forward-only delivery state machine.
type DeliveryState string

const (
	DeliveryQueued   DeliveryState = "queued"
	DeliveryInjected DeliveryState = "injected"
	DeliveryVerified DeliveryState = "verified"
	DeliveryActive   DeliveryState = "active"
	DeliveryFailed   DeliveryState = "failed"
)

// FailureReason names why a delivery reached the Failed terminal state.
type FailureReason string

const (
	ReasonVerificationTimeout FailureReason = "verification_timeout"
	ReasonNoActivity          FailureReason = "no_activity"
	ReasonWorkerExited        FailureReason = "worker_exited"
	ReasonCancelled           FailureReason = "cancelled"
	ReasonQueueFull           FailureReason = "queue_full"
)

// Delivery is one instance of message injection into one worker.
type Delivery struct {
	DeliveryID    string
	EventID       string
	WorkerName    string
	From          string
	Body          string
	ThreadID      string
	Priority      int
	FormattedText string
	State         DeliveryState
	FailureReason FailureReason
	Attempt       int
	CreatedAt     time.Time
	StateHistory  map[DeliveryState]time.Time
}

// NewDelivery builds a freshly queued delivery with its identity fields set.
func NewDelivery(deliveryID, eventID, worker, from, body, threadID string, priority int, formatted string) *Delivery {
	now := time.Now()
	return &Delivery{
		DeliveryID:    deliveryID,
		EventID:       eventID,
		WorkerName:    worker,
		From:          from,
		Body:          body,
		ThreadID:      threadID,
		Priority:      priority,
		FormattedText: formatted,
		State:         DeliveryQueued,
		CreatedAt:     now,
		StateHistory:  map[DeliveryState]time.Time{DeliveryQueued: now},
	}
}

// Transition advances the delivery to state s, recording the timestamp.
// Callers are responsible for only invoking this with forward-legal transitions.
func (d *Delivery) Transition(s DeliveryState) {
	d.State = s
	d.StateHistory[s] = time.Now()
}

// Outcome classifies the result of one injection attempt, consumed by Throttle.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// PersistedWorker is the serializable subset of a worker written to BrokerState.
type PersistedWorker struct {
	Name            string     `json:"name"`
	PID             int        `json:"pid"`
	CLI             CLIKind    `json:"cli"`
	Spec            WorkerSpec `json:"spec"`
	SpawnedAtUnixMs int64      `json:"spawned_at_unix_ms"`
}

// PersistedDelivery is the serializable subset of an in-flight delivery,
// enough to fully reconstruct and requeue it after a restart.
type PersistedDelivery struct {
	DeliveryID    string        `json:"delivery_id"`
	EventID       string        `json:"event_id"`
	WorkerName    string        `json:"worker_name"`
	From          string        `json:"from"`
	Body          string        `json:"body"`
	ThreadID      string        `json:"thread_id"`
	Priority      int           `json:"priority"`
	FormattedText string        `json:"formatted_text"`
	Attempt       int           `json:"attempt"`
	State         DeliveryState `json:"state"`
	CreatedAt     time.Time     `json:"created_at"`
}

// PersistedState is the full on-disk snapshot written atomically by BrokerState.
type PersistedState struct {
	Version           int                 `json:"version"`
	Workers           []PersistedWorker   `json:"workers"`
	PendingDeliveries []PersistedDelivery `json:"pending_deliveries"`
}

// EventFrame is a server-pushed, id-less control-plane frame.
type EventFrame struct {
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
}

// DeliveryReceipt is the payload shape for the five delivery lifecycle events.
type DeliveryReceipt struct {
	DeliveryID string        `json:"delivery_id"`
	EventID    string        `json:"event_id"`
	WorkerName string        `json:"worker_name"`
	Reason     FailureReason `json:"reason,omitempty"`
	TS         int64         `json:"ts"`
}
