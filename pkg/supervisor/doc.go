/*
Package supervisor assembles the broker process. Start builds every
process-wide component in a fixed order: SingletonGuard, then
WorkerRegistry, BrokerState (whose snapshot is loaded to reattach
workers), DedupCache, and finally RelaycastLink, with the EventBroker,
Throttle, DeliveryEngine, Router, and ControlPlane server wired in
alongside. A control-plane shutdown request tears them down: autosave
stops and takes a final snapshot, the Relaycast link disconnects, the
delivery engine stops its scan loop, the event broker stops, the
singleton lock is released, and then the metrics collector and HTTP
server stop.
*/
package supervisor
