/*
Package reconciler synchronizes the ledger and the work queue at the start
of a run.

The ledger is the source of truth for what has to be checked today and what
already completed. The queue is only a delivery mechanism: the reconciler
purges whatever it holds and republishes the ledger's pending subset, so a
crashed or interrupted run resumes exactly where it stopped.

# Protocol

One Synchronize call performs, in order:

 1. Fetch today's ledger rows and diff them against the generated task set.
 2. Insert the missing tasks as pending (duplicates are ignored, so two
    concurrent runs cannot double-insert).
 3. Purge the queue.
 4. Fetch the pending subset and publish it in batches.
 5. Verify the queue depth against the pending count. A mismatch is logged
    as a warning, never treated as fatal.

Running Synchronize twice with the same inputs inserts zero rows and leaves
the queue depth unchanged.
*/
package reconciler
