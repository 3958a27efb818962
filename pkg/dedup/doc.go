/*
Package dedup implements DedupCache: a bounded set of recently seen event
IDs with LRU-plus-TTL eviction.

When the broker sends a message locally it also publishes the same
logical message to Relaycast. The subsequent websocket echo carries the
same event_id and must not trigger a second injection into the target
worker. Callers preseed the cache with an event_id before the local send
to close this race, then check Contains on each inbound websocket message
before handing it to the delivery engine.

The cache is safe for concurrent use; Contains, Insert and Preseed are all
O(1) amortized.
*/
package dedup
