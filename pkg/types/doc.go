/*
Package types defines the core data structures shared across the broker.

This package contains the domain model used by the worker registry, the
delivery engine, the router, and the control plane: workers, channels,
deliveries, and the snapshot persisted to disk between restarts.

All types are designed to be:
  - Serializable (JSON, for control-plane frames and on-disk state)
  - Self-documenting (clear field names and comments)
  - Safe to copy by value where small, pointer-managed where mutable
*/
package types
