package controlplane

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/dedup"
	"github.com/cuemby/warren/pkg/delivery"
	"github.com/cuemby/warren/pkg/events"
	"github.com/cuemby/warren/pkg/registry"
	"github.com/cuemby/warren/pkg/router"
	"github.com/cuemby/warren/pkg/throttle"
	"github.com/cuemby/warren/pkg/types"
)

// testHarness lets the test feed request lines in and read reply/event
// lines out while Serve runs against a real io.Reader/io.Writer pair.
type testHarness struct {
	in  *io.PipeWriter
	out *bufio.Scanner
}

func newHarness(t *testing.T, srv *Server) *testHarness {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go srv.Serve(ctx, inR, outW)

	sc := bufio.NewScanner(outR)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &testHarness{in: inW, out: sc}
}

func (h *testHarness) send(t *testing.T, frame Frame) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	_, err = h.in.Write(append(data, '\n'))
	require.NoError(t, err)
}

func (h *testHarness) nextFrame(t *testing.T) Frame {
	t.Helper()
	require.True(t, h.out.Scan(), "expected a frame, got none: %v", h.out.Err())
	var f Frame
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &f))
	return f
}

// nextOfKind skips event frames until it finds one with the given kind,
// bounded by a handful of reads so a bug shows up as a test failure
// rather than a hang.
func (h *testHarness) nextOfKind(t *testing.T, kinds ...string) Frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		f := h.nextFrame(t)
		for _, k := range kinds {
			if f.Kind == k {
				return f
			}
		}
	}
	t.Fatalf("did not see a frame of kind %v within 20 reads", kinds)
	return Frame{}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.New(nil, map[types.CLIKind]string{types.CLIOther: "/bin/cat"})
	eng := delivery.New(delivery.Config{}, reg, throttle.New(0, 0), dedup.New(0, 0), nil)
	eng.Start()
	t.Cleanup(eng.Stop)
	bus := events.NewBroker()
	bus.Start()
	t.Cleanup(bus.Stop)
	rtr := router.New(reg, eng, dedup.New(0, 0), bus, nil)

	return &Server{Registry: reg, Router: rtr, Delivery: eng, Bus: bus}
}

func TestServe_SendsHelloAckFirst(t *testing.T) {
	srv := newTestServer(t)
	h := newHarness(t, srv)

	f := h.nextFrame(t)
	assert.Equal(t, "hello_ack", f.Kind)
}

func TestSpawnThenListAgents(t *testing.T) {
	srv := newTestServer(t)
	h := newHarness(t, srv)
	h.nextFrame(t) // hello_ack

	h.send(t, Frame{ID: "r1", Kind: "spawn", Payload: mustJSON(map[string]interface{}{
		"name": "W1", "cli": "other",
	})})
	reply := h.nextOfKind(t, "ok", "err")
	assert.Equal(t, "ok", reply.Kind)
	assert.Equal(t, "r1", reply.ID)

	h.send(t, Frame{ID: "r2", Kind: "list_agents"})
	reply = h.nextOfKind(t, "ok", "err")
	assert.Equal(t, "ok", reply.Kind)

	var payload struct {
		Agents []types.AgentInfo `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(reply.Payload, &payload))
	require.Len(t, payload.Agents, 1)
	assert.Equal(t, "W1", payload.Agents[0].Name)

	srv.Registry.Release("W1", "cleanup", time.Second)
}

func TestSpawn_DuplicateNameReturnsErr(t *testing.T) {
	srv := newTestServer(t)
	h := newHarness(t, srv)
	h.nextFrame(t)

	payload := mustJSON(map[string]interface{}{"name": "W1", "cli": "other"})
	h.send(t, Frame{ID: "r1", Kind: "spawn", Payload: payload})
	h.nextOfKind(t, "ok", "err")

	h.send(t, Frame{ID: "r2", Kind: "spawn", Payload: payload})
	reply := h.nextOfKind(t, "ok", "err")
	assert.Equal(t, "err", reply.Kind)

	var errPayload struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(reply.Payload, &errPayload))
	assert.Equal(t, "already_exists", errPayload.Code)

	srv.Registry.Release("W1", "cleanup", time.Second)
}

func TestSendMessage_UnknownTargetReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	h := newHarness(t, srv)
	h.nextFrame(t)

	h.send(t, Frame{ID: "r1", Kind: "send_message", Payload: mustJSON(map[string]interface{}{
		"to": "ghost", "text": "hi", "from": "Lead",
	})})
	reply := h.nextOfKind(t, "ok", "err")
	assert.Equal(t, "err", reply.Kind)

	var errPayload struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(reply.Payload, &errPayload))
	assert.Equal(t, "not_found", errPayload.Code)
}

func TestUnknownKind_ReturnsUnsupportedOperation(t *testing.T) {
	srv := newTestServer(t)
	h := newHarness(t, srv)
	h.nextFrame(t)

	h.send(t, Frame{ID: "r1", Kind: "frobnicate"})
	reply := h.nextOfKind(t, "ok", "err")
	assert.Equal(t, "err", reply.Kind)

	var errPayload struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(reply.Payload, &errPayload))
	assert.Equal(t, "unsupported_operation", errPayload.Code)
}

func TestShutdown_CallsHookAndReturnsOk(t *testing.T) {
	srv := newTestServer(t)
	called := make(chan struct{})
	srv.Shutdown = func() { close(called) }
	h := newHarness(t, srv)
	h.nextFrame(t)

	h.send(t, Frame{ID: "r1", Kind: "shutdown"})
	reply := h.nextOfKind(t, "ok", "err")
	assert.Equal(t, "ok", reply.Kind)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("shutdown hook was not called")
	}
}
