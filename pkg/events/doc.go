/*
Package events provides an in-memory event broker feeding the control plane.

The events package implements a lightweight event bus: worker lifecycle
changes, delivery receipts, inbound Relaycast messages, and warnings are
all published here and broadcast to every subscribed control-plane client
connection. It decouples the broker's internal components (registry,
delivery engine, relaycast link) from the control plane's framing and
per-client fan-out.

Each client connection owns one Subscriber (a buffered channel). A slow or
stuck client drops events rather than blocking the broker — broadcast is
best-effort, matching the non-goal of acting as a general persistent queue.
*/
package events
