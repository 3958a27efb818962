// Package router implements the dual-path send: every outbound message
// is queued locally for injection and, independently, handed off for
// best-effort publication to Relaycast, without the control-plane reply
// waiting on either to finish.
package router

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/warren/pkg/dedup"
	"github.com/cuemby/warren/pkg/delivery"
	"github.com/cuemby/warren/pkg/events"
	"github.com/cuemby/warren/pkg/ptyworker"
	"github.com/cuemby/warren/pkg/registry"
	"github.com/cuemby/warren/pkg/types"
)

// Publisher is the subset of RelaycastLink the router needs: a
// fire-and-forget outbound publish. Declared here so router does not
// import pkg/relaycast directly, the same cyclic-ownership break used
// between the delivery engine and the registry.
type Publisher interface {
	Publish(frame types.EventFrame)
}

// Router resolves a send_message request's "to" field to worker names,
// queues one Delivery per target, and forwards a copy to Relaycast.
type Router struct {
	registry *registry.Registry
	delivery *delivery.Engine
	dedup    *dedup.Cache
	bus      *events.Broker
	remote   Publisher
}

// New creates a Router. remote may be nil (no Relaycast link configured).
func New(reg *registry.Registry, eng *delivery.Engine, dc *dedup.Cache, bus *events.Broker, remote Publisher) *Router {
	return &Router{registry: reg, delivery: eng, dedup: dc, bus: bus, remote: remote}
}

// SendResult is the control-plane reply for a send_message request:
// returned once every target is queued, not once delivery completes.
type SendResult struct {
	EventID string   `json:"event_id"`
	Targets []string `json:"targets"`
}

// Send resolves to, queues a Delivery for every resolved worker, and
// asynchronously republishes to Relaycast. priority>0 requests go to the
// front of each target's queue, behind any delivery already in flight.
func (r *Router) Send(from, to, body, threadID string, priority int) (SendResult, error) {
	eventID := "sdk_" + uuid.NewString()
	r.dedup.Preseed(eventID)

	targets := r.registry.WorkersForTarget(to, from)
	if len(targets) == 0 {
		return SendResult{}, fmt.Errorf("no_targets: %q resolved to no live workers", to)
	}

	for _, name := range targets {
		formatted := ptyworker.FormatInjection(from, eventID, body)

		d := types.NewDelivery("d_"+uuid.NewString(), eventID, name, from, body, threadID, priority, formatted)
		if err := r.delivery.Enqueue(d); err != nil {
			r.publishWarning(fmt.Sprintf("enqueue failed for %s: %v", name, err))
			continue
		}
	}

	if r.remote != nil {
		go r.remote.Publish(types.EventFrame{
			Kind: "inbound_message",
			Payload: map[string]interface{}{
				"event_id":  eventID,
				"from":      from,
				"to":        to,
				"body":      body,
				"thread_id": threadID,
				"ts":        time.Now().UnixMilli(),
			},
		})
	}

	if r.bus != nil {
		r.bus.Publish(&events.Event{
			Type:    events.EventInboundMessage,
			Message: body,
			Metadata: map[string]string{
				"event_id": eventID,
				"from":     from,
				"to":       to,
			},
		})
	}

	return SendResult{EventID: eventID, Targets: targets}, nil
}

// ReceiveRemote handles a message arriving over the Relaycast link: it is
// dedup-filtered against locally originated sends (via Preseed) and
// against previously-seen remote event IDs, then routed the same way a
// local send_message would be, with from set to the remote sender.
func (r *Router) ReceiveRemote(eventID, from, to, body, threadID string) {
	if r.dedup.Contains(eventID) {
		return
	}
	r.dedup.Insert(eventID)

	targets := r.registry.WorkersForTarget(to, from)
	for _, name := range targets {
		formatted := ptyworker.FormatInjection(from, eventID, body)
		d := types.NewDelivery("d_"+uuid.NewString(), eventID, name, from, body, threadID, 0, formatted)
		if err := r.delivery.Enqueue(d); err != nil {
			r.publishWarning(fmt.Sprintf("enqueue failed for %s: %v", name, err))
		}
	}
}

func (r *Router) publishWarning(msg string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(&events.Event{Type: events.EventWarning, Message: msg})
}
