/*
Package metrics provides Prometheus metrics collection and exposition for
the broker.

The metrics package defines and registers all broker metrics using the
Prometheus client library, providing observability into worker population,
delivery throughput and failure modes, throttle backoff state, dedup cache
occupancy, and Relaycast connectivity. Metrics are exposed via an HTTP
endpoint for scraping.

# Core components

  - Registered gauges/counters/histograms (metrics.go), grouped by the
    component they observe: workers, deliveries, throttle, dedup,
    relaycast, control plane.
  - Collector: polls WorkerRegistry, DeliveryEngine and DedupCache on a
    fixed interval and updates the corresponding gauges, following the
    same ticker-driven sampling loop used by the delivery engine's
    reconciliation scan.
  - Timer: a small helper for recording operation duration into a
    histogram, used at call sites across the broker rather than each
    site managing its own time.Since bookkeeping.
  - HealthChecker: component-level health/readiness/liveness state,
    exposed over HTTP for external supervisors (systemd, launchd) to
    probe.

Counters that are updated directly from the hot path (DeliveriesTotal,
ControlRequestsTotal) are incremented inline by the owning component;
gauges that reflect point-in-time state (WorkersTotal, DeliveriesPending)
are refreshed by the Collector's polling loop instead, to avoid every
mutation site needing to know about metrics wiring.
*/
package metrics
