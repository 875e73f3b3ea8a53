/*
Package worker drains the day's work queue with a fixed pool of goroutines.

Each worker takes a delivery from the shared consumer channel, probes the
(ip, zone) pair under a per-task deadline, and buffers the outcome. The
shared buffer is flushed to the ledger whenever it reaches the bulk update
threshold, and once more when the pool stops, so a crash loses at most one
buffer's worth of outcomes and those tasks simply stay pending for the next
run.

Termination is driven by the queue depth measured at start: the pool counts
processed tasks and stops itself when the count is reached, instead of
waiting on an idle-consumer heuristic. A cancelled context stops the pool
early; workers still mid-probe get a grace period before the run is
summarized without them.

Every outcome is terminal. A panic inside a probe is converted into an
exception outcome rather than taking the pool down, and the message is
acknowledged either way so the broker never redelivers it within the run.
*/
package worker
