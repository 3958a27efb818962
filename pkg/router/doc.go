/*
Package router implements the dual-path send behavior: a send_message
request generates one event ID, preseeds it into the dedup cache to close
the race against its own echo coming back over Relaycast, queues one
Delivery per resolved target through DeliveryEngine, and fires a
best-effort copy at Relaycast in the background. The control-plane reply
carries the event ID and resolved target list as soon as every target is
queued; it never waits for injection, verification, or Relaycast
round-trip.

ReceiveRemote is the inbound half: a message arriving over the Relaycast
link is dedup-filtered against both local Preseed entries and previously
seen remote event IDs before being routed into the same per-worker
delivery queues a local send_message would use.
*/
package router
