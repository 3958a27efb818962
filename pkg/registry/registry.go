// Package registry implements WorkerRegistry: the process-wide map of
// worker name to PtyWorker plus channel membership.
package registry

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/warren/pkg/events"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/ptyworker"
	"github.com/cuemby/warren/pkg/types"
)

// entry pairs a live worker with the registry-level bookkeeping that
// doesn't belong inside ptyworker.Worker itself.
type entry struct {
	worker     *ptyworker.Worker
	cli        types.CLIKind
	status     types.WorkerStatus
	channels   map[string]bool
	reattached bool
	injectable bool
}

// Registry is the single process-wide owner of every PtyWorker. Reads
// (list, get, workers_for_target) take a shared lock; writes (spawn,
// release, adopt) take an exclusive lock, matching the read-mostly
// access pattern documented for this component.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	bus      *events.Broker
	binaries map[types.CLIKind]string
}

// New creates an empty Registry. binaries maps each CLIKind to the
// executable name used to spawn it (e.g. CLIClaude -> "claude"); bus
// receives agent_spawned/agent_ready/agent_exited/agent_released events.
func New(bus *events.Broker, binaries map[types.CLIKind]string) *Registry {
	return &Registry{
		entries:  make(map[string]*entry),
		bus:      bus,
		binaries: binaries,
	}
}

// Spawn creates and starts a new worker for spec. Fails if the name is
// already registered.
func (r *Registry) Spawn(spec types.WorkerSpec, env []string) (*ptyworker.Worker, error) {
	r.mu.Lock()
	if _, exists := r.entries[spec.Name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("already_exists: worker %q", spec.Name)
	}
	r.mu.Unlock()

	binary, ok := r.binaries[spec.CLI]
	if !ok || binary == "" {
		return nil, fmt.Errorf("invalid_payload: no binary configured for cli %q", spec.CLI)
	}

	w, err := ptyworker.New(spec, binary, env, ptyworker.Callbacks{
		OnExit: r.handleExit,
	})
	if err != nil {
		return nil, err
	}

	e := &entry{
		worker:     w,
		cli:        spec.CLI,
		status:     types.WorkerReady,
		channels:   toSet(spec.Channels),
		injectable: true,
	}

	r.mu.Lock()
	r.entries[spec.Name] = e
	r.mu.Unlock()

	w.Start()
	r.publish(events.EventAgentSpawned, spec.Name, "")
	r.publish(events.EventAgentReady, spec.Name, "")

	return w, nil
}

func (r *Registry) handleExit(name string, exitCode int, signal string) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		e.status = types.WorkerExited
	}
	r.mu.Unlock()

	log.WithWorker(name).Info().Int("exit_code", exitCode).Str("signal", signal).Msg("agent exited")
	r.publish(events.EventAgentExited, name, fmt.Sprintf("exit_code=%d signal=%s", exitCode, signal))

	r.mu.Lock()
	delete(r.entries, name)
	r.mu.Unlock()
}

// Release signals the named worker to exit, waiting up to grace before
// SIGKILL. Idempotent: releasing an unknown name is a no-op success, per
// the round-trip law that release(unknown) returns ok.
func (r *Registry) Release(name, reason string, grace time.Duration) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		e.status = types.WorkerReleasing
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	err := e.worker.Release(grace)
	r.publish(events.EventAgentReleased, name, reason)
	return err
}

// Exists reports whether name is registered at all, live or reattached.
// Unlike Get, it returns true for a reattached-but-not-yet-adopted entry
// even though that entry has no live *ptyworker.Worker handle.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Get returns the worker registered under name, or nil if none.
func (r *Registry) Get(name string) *ptyworker.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; !ok {
		return nil
	} else {
		return e.worker
	}
}

// Injectable reports whether name is both present and allowed to receive
// new injections (false for a reattached-but-not-adopted worker).
func (r *Registry) Injectable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.injectable
}

// Adopt flips a reattached worker to injectable, resuming normal delivery.
func (r *Registry) Adopt(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("not_found: worker %q", name)
	}
	e.injectable = true
	e.reattached = false
	return nil
}

// List returns a snapshot of every registered worker.
func (r *Registry) List() []types.AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.AgentInfo, 0, len(r.entries))
	for name, e := range r.entries {
		var pid int
		var spawnedAt time.Time
		var activity time.Time
		var model string
		if e.worker != nil {
			pid = e.worker.PID()
			spawnedAt = e.worker.SpawnedAt()
			activity = e.worker.ActivityLastSeen()
			model = e.worker.Model()
		}
		out = append(out, types.AgentInfo{
			Name:             name,
			CLI:              e.cli,
			PID:              pid,
			Status:           e.status,
			Model:            model,
			Channels:         fromSet(e.channels),
			SpawnedAt:        spawnedAt,
			ActivityLastSeen: activity,
			Reattached:       e.reattached,
			Injectable:       e.injectable,
		})
	}
	return out
}

// WorkersForTarget resolves a send_message "to" field (plain name, "*",
// or "#channel") to the set of live worker names it refers to. from is
// excluded from wildcard resolution.
func (r *Registry) WorkersForTarget(to, from string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch {
	case to == "*":
		names := make([]string, 0, len(r.entries))
		for name := range r.entries {
			if name != from {
				names = append(names, name)
			}
		}
		return names
	case len(to) > 0 && to[0] == '#':
		channel := to[1:]
		var names []string
		for name, e := range r.entries {
			if e.channels[channel] {
				names = append(names, name)
			}
		}
		return names
	default:
		if _, ok := r.entries[to]; ok {
			return []string{to}
		}
		return nil
	}
}

// ReattachCandidate is one persisted worker record checked against the
// live process table on startup.
type ReattachCandidate struct {
	Name      string
	PID       int
	CLI       types.CLIKind
	Spec      types.WorkerSpec
	SpawnedAt time.Time
}

// Reattach lists surviving processes from a prior run as non-injectable
// entries (the safe default documented for this component: never reopen
// a PTY blindly). Processes that are no longer alive are silently
// dropped.
func (r *Registry) Reattach(candidates []ReattachCandidate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range candidates {
		if !pidAlive(c.PID) {
			continue
		}
		r.entries[c.Name] = &entry{
			cli:        c.CLI,
			status:     types.WorkerReattached,
			channels:   toSet(c.Spec.Channels),
			reattached: true,
			injectable: false,
		}
	}
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (r *Registry) publish(kind events.EventType, name, message string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(&events.Event{
		Type:     kind,
		Message:  message,
		Metadata: map[string]string{"name": name},
	})
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}

func fromSet(s map[string]bool) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}
