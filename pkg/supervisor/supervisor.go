// Package supervisor wires every broker component together in a fixed
// construction order and tears it down on shutdown.
package supervisor

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/warren/pkg/controlplane"
	"github.com/cuemby/warren/pkg/dedup"
	"github.com/cuemby/warren/pkg/delivery"
	"github.com/cuemby/warren/pkg/events"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/registry"
	"github.com/cuemby/warren/pkg/relaycast"
	"github.com/cuemby/warren/pkg/router"
	"github.com/cuemby/warren/pkg/singleton"
	"github.com/cuemby/warren/pkg/state"
	"github.com/cuemby/warren/pkg/throttle"
	"github.com/cuemby/warren/pkg/types"
)

// Config holds the broker's startup configuration, the kind a CLI layer
// would parse from flags and environment.
type Config struct {
	ProjectDir   string
	MetricsAddr  string
	Binaries     map[types.CLIKind]string
	RelaycastURL string
	RelaycastTok string
	ReleaseGrace time.Duration
}

// Supervisor owns the process-wide components: the SingletonGuard,
// WorkerRegistry, BrokerState task, DedupCache, and RelaycastLink, built
// in that fixed order. There are no other process-wide singletons.
type Supervisor struct {
	cfg Config

	guard    *singleton.Guard
	registry *registry.Registry
	relay    *relaycast.Link
	dedupe   *dedup.Cache
	store    *state.Store

	bus      *events.Broker
	throttle *throttle.Throttle
	delivery *delivery.Engine
	router   *router.Router
	control  *controlplane.Server

	relayCtx    context.Context
	relayCancel context.CancelFunc
	autosaveCh  chan struct{}
	httpServer  *http.Server
	collector   *metrics.Collector
}

// Start constructs every component in order, starts the background
// loops (delivery scan, Relaycast link, metrics server, autosave) and
// returns. It does not serve the control plane; call Serve for that.
func Start(cfg Config) (*Supervisor, error) {
	guard, err := singleton.Acquire(cfg.ProjectDir)
	if err != nil {
		return nil, &StartupError{ExitCode: 1, Err: err}
	}

	bus := events.NewBroker()
	bus.Start()

	reg := registry.New(bus, cfg.Binaries)

	statePath := filepath.Join(cfg.ProjectDir, ".agent-relay", "broker.state.json")
	store := state.New(statePath)

	snap, err := store.Load()
	if err != nil {
		bus.Stop()
		_ = guard.Release()
		return nil, &StartupError{ExitCode: 2, Err: err}
	}
	reattachFromSnapshot(reg, snap)

	dc := dedup.New(0, 0)

	th := throttle.New(0, 0)

	eng := delivery.New(delivery.Config{}, reg, th, dc, bus)
	eng.Start()
	eng.Restore(snap.PendingDeliveries)

	var relay *relaycast.Link
	rtr := router.New(reg, eng, dc, bus, nil)
	if cfg.RelaycastURL != "" {
		relay = relaycast.New(cfg.RelaycastURL, cfg.RelaycastTok, func(frame types.EventFrame) {
			handleRelaycastFrame(rtr, frame)
		})
		relay.OnStateChange = func(connected bool) {
			if !connected {
				bus.Publish(&events.Event{
					Type:     events.EventWarning,
					Message:  "relaycast link disconnected",
					Metadata: map[string]string{"source": "relaycast"},
				})
			}
		}
		rtr = router.New(reg, eng, dc, bus, relay)
	}

	s := &Supervisor{
		cfg:        cfg,
		guard:      guard,
		registry:   reg,
		relay:      relay,
		dedupe:     dc,
		store:      store,
		bus:        bus,
		throttle:   th,
		delivery:   eng,
		router:     rtr,
		autosaveCh: make(chan struct{}),
	}

	s.control = &controlplane.Server{
		Registry:     reg,
		Router:       rtr,
		Delivery:     eng,
		Bus:          bus,
		ReleaseGrace: cfg.ReleaseGrace,
		Shutdown:     s.teardown,
	}

	s.startMetricsServer()

	if relay != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.relayCtx, s.relayCancel = ctx, cancel
		go relay.Run(ctx)
	}

	go store.AutosaveLoop(snapshotter{s}, 5*time.Second, s.autosaveCh)

	return s, nil
}

// Serve runs the stdio control plane loop against the given streams
// (normally os.Stdin/os.Stdout) until the client disconnects or a
// shutdown request is handled.
func (s *Supervisor) Serve(ctx context.Context, in *os.File, out *os.File) error {
	return s.control.Serve(ctx, in, out)
}

// teardown stops the autosave loop (saving a final snapshot), the
// Relaycast link, the delivery engine, the event broker and the
// singleton lock, in that order, then the metrics collector and HTTP
// server. Safe to call once; ControlPlane
// guarantees Shutdown fires at most once per Serve call.
func (s *Supervisor) teardown() {
	close(s.autosaveCh)
	_ = s.store.Save(s.snapshot())

	if s.relay != nil {
		s.relayCancel()
		s.relay.Stop()
	}

	s.delivery.Stop()
	s.bus.Stop()
	_ = s.guard.Release()

	if s.collector != nil {
		s.collector.Stop()
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(ctx)
	}

	log.Logger.Info().Msg("broker shutdown complete")
}

func (s *Supervisor) startMetricsServer() {
	if s.cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	s.collector = metrics.NewCollector(s.registry, s.delivery, s.dedupe)
	s.collector.Start()

	s.httpServer = &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}

func (s *Supervisor) snapshot() types.PersistedState {
	agents := s.registry.List()
	workers := make([]types.PersistedWorker, 0, len(agents))
	for _, a := range agents {
		workers = append(workers, types.PersistedWorker{
			Name:            a.Name,
			PID:             a.PID,
			CLI:             a.CLI,
			Spec:            types.WorkerSpec{Channels: a.Channels},
			SpawnedAtUnixMs: a.SpawnedAt.UnixMilli(),
		})
	}
	return types.PersistedState{
		Workers:           workers,
		PendingDeliveries: s.delivery.Snapshot(),
	}
}

type snapshotter struct{ s *Supervisor }

func (sn snapshotter) Snapshot() types.PersistedState { return sn.s.snapshot() }

func reattachFromSnapshot(reg *registry.Registry, snap types.PersistedState) {
	if len(snap.Workers) == 0 {
		return
	}
	candidates := make([]registry.ReattachCandidate, 0, len(snap.Workers))
	for _, w := range snap.Workers {
		candidates = append(candidates, registry.ReattachCandidate{
			Name: w.Name,
			PID:  w.PID,
			CLI:  w.CLI,
			Spec: w.Spec,
		})
	}
	reg.Reattach(candidates)
}

func handleRelaycastFrame(rtr *router.Router, frame types.EventFrame) {
	payload, ok := frame.Payload.(map[string]interface{})
	if !ok {
		return
	}
	eventID, _ := payload["event_id"].(string)
	from, _ := payload["from"].(string)
	to, _ := payload["to"].(string)
	body, _ := payload["body"].(string)
	threadID, _ := payload["thread_id"].(string)
	if eventID == "" || to == "" {
		return
	}
	rtr.ReceiveRemote(eventID, from, to, body, threadID)
}

// StartupError carries the process exit code a fatal startup failure
// should produce: 1 for singleton-lock contention, 2 for any other
// fatal startup error (missing binary, unreadable state file).
type StartupError struct {
	ExitCode int
	Err      error
}

func (e *StartupError) Error() string { return e.Err.Error() }
func (e *StartupError) Unwrap() error { return e.Err }
