/*
Package relaycast implements RelaycastLink: a reconnecting websocket
client to the cloud relay, grounded on the same dial/read-loop/heartbeat
shape used by other outbound relay clients in the wild, with
capped exponential backoff on every disconnect and a reset to the initial
delay after any successful connection.

Outbound publishes go through a bounded channel; Publish never blocks the
caller and drops the oldest queued frame rather than grow without bound
when the link is down or backed up, since Relaycast delivery is
best-effort by design, never a requirement for local delivery to
succeed.
*/
package relaycast
