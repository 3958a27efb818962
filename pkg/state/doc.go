/*
Package state implements BrokerState, the component that owns
.agent-relay/broker.state.json: the list of live workers and in-flight
deliveries needed to resume after a restart (see pkg/registry's Reattach
for how worker records get turned back into registry entries).

Every write goes through the standard temp-file-plus-rename sequence so
a crash mid-write can never corrupt the file a subsequent startup reads.
No teacher file performs this exact sequence — the teacher's durable
storage concerns were raft/bbolt, dropped along with cluster consensus —
so this follows the general-purpose atomic-file-replace idiom rather
than any one example repo.
*/
package state
