/*
Package registry implements WorkerRegistry: the process-wide map of
worker name to PtyWorker, plus channel membership used to resolve
multicast send_message targets.

WorkerRegistry exclusively owns every ptyworker.Worker; other components
(DeliveryEngine, Router) hold only worker names and resolve through
Registry's read methods rather than keeping their own handles, breaking
what would otherwise be a cyclic ownership between Router, DeliveryEngine
and WorkerRegistry.

Reattach lists a surviving process from a prior broker run as present but
not injectable, per the safe default documented for this component: a
restart never reopens a PTY blindly. A worker becomes injectable again
only once Adopt is called in response to an explicit operator request.
*/
package registry
