/*
Package queue wraps the broker behind a small capability interface:
EnsureQueue, Purge, Publish, Consume, Ack, Nack and MessageCount.

The queue is a transient materialization of the ledger's pending subset.
Messages are persistent so a broker restart does not lose queued work, but
the ledger stays authoritative: the synchronizer can always purge and
rebuild the queue from it.
*/
package queue
