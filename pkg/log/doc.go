/*
Package log provides structured logging for the broker using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level.

# Component loggers

  - WithComponent("router")
  - WithWorker("Worker1")
  - WithDelivery("d_8f2a")
  - WithChannel("#leads")

# Output

Console output (human-readable, colorized) is used by default; JSON
output for piping into log aggregation is selected with
Config.JSONOutput = true. Both are configured once at startup through
Init(Config), mirroring the one-time-initialization pattern used across
the rest of the broker (metrics, control plane).
*/
package log
