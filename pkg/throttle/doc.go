/*
Package throttle implements Throttle: per-worker injection pacing derived
from the recent outcome stream for that worker.

The delay starts at a healthy-baseline minimum. Each failed or timed-out
verification doubles it, up to a ceiling; three consecutive successes at
the elevated delay halve it back down, floored at the minimum. The
delivery engine gates every injection attempt on NextAllowedAt, so a
worker that is struggling to keep up with injected messages is backed off
automatically rather than hammered at a fixed rate.

State is scoped per worker name and never shared across workers; this is
deliberately not a token-bucket rate limiter (golang.org/x/time/rate
cannot express multiplicative backoff with a success-streak decay), see
the design ledger for why it is hand-rolled instead.
*/
package throttle
