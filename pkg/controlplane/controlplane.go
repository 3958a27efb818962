// Package controlplane implements ControlPlane: the newline-delimited
// JSON-over-stdio protocol the SDK uses to drive the broker (spawn,
// send_message, send_input, release, list_agents, get_status, set_model,
// get_metrics, adopt, shutdown), plus server-pushed event frames.
package controlplane

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/delivery"
	"github.com/cuemby/warren/pkg/events"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/registry"
	"github.com/cuemby/warren/pkg/router"
	"github.com/cuemby/warren/pkg/types"
)

// Frame is one line of the wire protocol: a request, a reply, or a
// server-pushed event. ID is empty for event frames.
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const protocolVersion = "1"

const defaultReleaseGrace = 5 * time.Second

// Server dispatches request frames against the broker's live components
// and pushes event frames from the shared event bus.
type Server struct {
	Registry     *registry.Registry
	Router       *router.Router
	Delivery     *delivery.Engine
	Bus          *events.Broker
	ReleaseGrace time.Duration

	// Shutdown is called once, after every worker has been released and
	// pending deliveries cancelled, to let the supervisor tear down the
	// remaining process-wide state (Relaycast link, state store, lock).
	Shutdown func()
}

// Serve reads request frames from r and writes reply/event frames to w
// until r is closed, ctx is cancelled, or a shutdown request completes.
// Intended to be called once per connected client; stdio is the only
// client in the default deployment, but the framing supports more.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	var writeMu sync.Mutex
	write := func(f Frame) error {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err = w.Write(append(data, '\n'))
		return err
	}

	if err := write(Frame{Kind: "hello_ack", Payload: mustJSON(map[string]interface{}{
		"version":      protocolVersion,
		"capabilities": []string{"spawn", "send_message", "send_input", "release", "list_agents", "get_status", "set_model", "get_metrics", "adopt", "shutdown"},
	})}); err != nil {
		return fmt.Errorf("hello_ack: %w", err)
	}

	eventCtx, cancelEvents := context.WithCancel(ctx)
	defer cancelEvents()
	go s.pumpEvents(eventCtx, write)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var req Frame
		if err := json.Unmarshal(line, &req); err != nil {
			_ = write(errFrame("", "invalid_payload", err.Error()))
			continue
		}

		reply := s.dispatch(req)
		if err := write(reply); err != nil {
			return err
		}

		if req.Kind == "shutdown" {
			return nil
		}
	}
	return scanner.Err()
}

func (s *Server) pumpEvents(ctx context.Context, write func(Frame) error) {
	if s.Bus == nil {
		return
	}
	sub := s.Bus.Subscribe()
	defer s.Bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			_ = write(Frame{
				Kind: string(ev.Type),
				Payload: mustJSON(map[string]interface{}{
					"message":  ev.Message,
					"metadata": ev.Metadata,
					"payload":  ev.Payload,
					"ts":       ev.Timestamp.UnixMilli(),
				}),
			})
		}
	}
}

func (s *Server) dispatch(req Frame) Frame {
	timer := metrics.NewTimer()
	reply, code := s.handle(req)
	timer.ObserveDurationVec(metrics.ControlRequestDuration, req.Kind)
	metrics.ControlRequestsTotal.WithLabelValues(req.Kind, code).Inc()
	return reply
}

func (s *Server) handle(req Frame) (Frame, string) {
	switch req.Kind {
	case "spawn":
		return s.handleSpawn(req)
	case "send_message":
		return s.handleSendMessage(req)
	case "send_input":
		return s.handleSendInput(req)
	case "release":
		return s.handleRelease(req)
	case "adopt":
		return s.handleAdopt(req)
	case "list_agents":
		return s.handleListAgents(req)
	case "get_status":
		return s.handleGetStatus(req)
	case "set_model":
		return s.handleSetModel(req)
	case "get_metrics":
		return s.handleGetMetrics(req)
	case "shutdown":
		return s.handleShutdown(req)
	default:
		return errFrame(req.ID, "unsupported_operation", fmt.Sprintf("unknown kind %q", req.Kind)), "unsupported_operation"
	}
}

type spawnPayload struct {
	Name       string   `json:"name"`
	CLI        string   `json:"cli"`
	Args       []string `json:"args"`
	Task       string   `json:"task"`
	Channels   []string `json:"channels"`
	Model      string   `json:"model"`
	Cwd        string   `json:"cwd"`
	Team       string   `json:"team"`
	ShadowOf   string   `json:"shadow_of"`
	ShadowMode string   `json:"shadow_mode"`
}

func (s *Server) handleSpawn(req Frame) (Frame, string) {
	var p spawnPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errFrame(req.ID, "invalid_payload", err.Error()), "invalid_payload"
	}

	spec := types.WorkerSpec{
		Name:       p.Name,
		CLI:        types.CLIKind(p.CLI),
		Args:       p.Args,
		Task:       p.Task,
		Channels:   p.Channels,
		Model:      p.Model,
		Cwd:        p.Cwd,
		Team:       p.Team,
		ShadowOf:   p.ShadowOf,
		ShadowMode: p.ShadowMode,
	}

	w, err := s.Registry.Spawn(spec, os.Environ())
	if err != nil {
		code := codeForError(err)
		return errFrame(req.ID, code, err.Error()), code
	}

	return okFrame(req.ID, map[string]interface{}{
		"name": w.Name(),
		"pid":  w.PID(),
	}), "ok"
}

type sendMessagePayload struct {
	To       string `json:"to"`
	Text     string `json:"text"`
	From     string `json:"from"`
	ThreadID string `json:"thread_id"`
	Priority int    `json:"priority"`
}

func (s *Server) handleSendMessage(req Frame) (Frame, string) {
	var p sendMessagePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errFrame(req.ID, "invalid_payload", err.Error()), "invalid_payload"
	}

	res, err := s.Router.Send(p.From, p.To, p.Text, p.ThreadID, p.Priority)
	if err != nil {
		code := codeForError(err)
		return errFrame(req.ID, code, err.Error()), code
	}

	return okFrame(req.ID, map[string]interface{}{
		"event_id": res.EventID,
		"targets":  res.Targets,
	}), "ok"
}

type sendInputPayload struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

func (s *Server) handleSendInput(req Frame) (Frame, string) {
	var p sendInputPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errFrame(req.ID, "invalid_payload", err.Error()), "invalid_payload"
	}

	w := s.Registry.Get(p.Name)
	if w == nil {
		return errFrame(req.ID, "not_found", fmt.Sprintf("unknown worker %q", p.Name)), "not_found"
	}
	if err := w.WriteRaw([]byte(p.Data)); err != nil {
		return errFrame(req.ID, "worker_exited", err.Error()), "worker_exited"
	}
	return okFrame(req.ID, map[string]interface{}{}), "ok"
}

type releasePayload struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

func (s *Server) handleRelease(req Frame) (Frame, string) {
	var p releasePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errFrame(req.ID, "invalid_payload", err.Error()), "invalid_payload"
	}

	s.Delivery.CancelAll(p.Name)
	if err := s.Registry.Release(p.Name, p.Reason, s.grace()); err != nil {
		return errFrame(req.ID, "internal", err.Error()), "internal"
	}
	return okFrame(req.ID, map[string]interface{}{}), "ok"
}

type adoptPayload struct {
	Name string `json:"name"`
}

func (s *Server) handleAdopt(req Frame) (Frame, string) {
	var p adoptPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errFrame(req.ID, "invalid_payload", err.Error()), "invalid_payload"
	}
	if err := s.Registry.Adopt(p.Name); err != nil {
		return errFrame(req.ID, "not_found", err.Error()), "not_found"
	}
	return okFrame(req.ID, map[string]interface{}{}), "ok"
}

func (s *Server) handleListAgents(req Frame) (Frame, string) {
	agents := s.Registry.List()
	return okFrame(req.ID, map[string]interface{}{"agents": agents}), "ok"
}

func (s *Server) handleGetStatus(req Frame) (Frame, string) {
	agents := s.Registry.List()
	return okFrame(req.ID, map[string]interface{}{
		"version":            protocolVersion,
		"worker_count":       len(agents),
		"pending_deliveries": s.Delivery.PendingCount(),
	}), "ok"
}

type setModelPayload struct {
	Name      string `json:"name"`
	Model     string `json:"model"`
	TimeoutMs int    `json:"timeout_ms"`
}

func (s *Server) handleSetModel(req Frame) (Frame, string) {
	var p setModelPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errFrame(req.ID, "invalid_payload", err.Error()), "invalid_payload"
	}
	w := s.Registry.Get(p.Name)
	if w == nil {
		return errFrame(req.ID, "not_found", fmt.Sprintf("unknown worker %q", p.Name)), "not_found"
	}
	w.SetModel(p.Model)
	return okFrame(req.ID, map[string]interface{}{}), "ok"
}

type getMetricsPayload struct {
	Agent string `json:"agent"`
}

func (s *Server) handleGetMetrics(req Frame) (Frame, string) {
	var p getMetricsPayload
	_ = json.Unmarshal(req.Payload, &p)

	agents := s.Registry.List()
	if p.Agent != "" {
		for _, a := range agents {
			if a.Name == p.Agent {
				return okFrame(req.ID, map[string]interface{}{"agent": a}), "ok"
			}
		}
		return errFrame(req.ID, "not_found", fmt.Sprintf("unknown worker %q", p.Agent)), "not_found"
	}

	return okFrame(req.ID, map[string]interface{}{
		"worker_count":       len(agents),
		"pending_deliveries": s.Delivery.PendingCount(),
	}), "ok"
}

func (s *Server) handleShutdown(req Frame) (Frame, string) {
	s.Delivery.CancelAll("")

	agents := s.Registry.List()
	var wg sync.WaitGroup
	wg.Add(len(agents))
	for _, a := range agents {
		go func(name string) {
			defer wg.Done()
			_ = s.Registry.Release(name, "shutdown", s.grace())
		}(a.Name)
	}
	wg.Wait()

	if s.Shutdown != nil {
		s.Shutdown()
	}
	return okFrame(req.ID, map[string]interface{}{}), "ok"
}

func (s *Server) grace() time.Duration {
	if s.ReleaseGrace <= 0 {
		return defaultReleaseGrace
	}
	return s.ReleaseGrace
}

func okFrame(id string, payload interface{}) Frame {
	return Frame{ID: id, Kind: "ok", Payload: mustJSON(payload)}
}

func errFrame(id, code, message string) Frame {
	return Frame{ID: id, Kind: "err", Payload: mustJSON(map[string]interface{}{
		"code":    code,
		"message": message,
	})}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Logger.Error().Err(err).Msg("controlplane: marshal failed")
		return json.RawMessage(`{}`)
	}
	return data
}

var knownCodes = map[string]bool{
	"not_found": true, "already_exists": true, "invalid_payload": true,
	"queue_full": true, "worker_exited": true, "verification_timeout": true,
	"cancelled": true, "unsupported_operation": true, "internal": true,
}

// codeForError maps an internal error's leading "code: detail" prefix
// (the convention used by pkg/registry, pkg/delivery and pkg/router) to
// one of the documented error taxonomy codes, falling back to internal.
func codeForError(err error) string {
	if err == nil {
		return "internal"
	}
	prefix := err.Error()
	if idx := strings.Index(prefix, ":"); idx >= 0 {
		prefix = prefix[:idx]
	}
	if prefix == "no_targets" {
		return "not_found"
	}
	if knownCodes[prefix] {
		return prefix
	}
	return "internal"
}
