/*
Package controlplane implements the stdio wire protocol: newline-delimited
JSON frames, each carrying a `kind` discriminator. A request frame has an
opaque `id` that its reply frame echoes back with either `kind:"ok"` or
`kind:"err"`; event frames are server-pushed and carry no `id`.

On connect the server sends `hello_ack` advertising the supported request
kinds. `shutdown` drains the broker: every pending delivery is cancelled
with `Failed{cancelled}`, every worker is released with the configured
grace period, and the caller-supplied Shutdown hook tears down whatever
process-wide state remains (Relaycast link, state store, singleton
lock) through the Supervisor's teardown.
*/
package controlplane
