/*
Package ledger implements the durable per-day task ledger.

The ledger owns the authoritative status of every task. One SQLite table,
ip_check, holds a row per (ip_address, dns, check_date) with its status,
terminal result, diagnostic details and last_updated timestamp. Inserts are
idempotent on the uniqueness key, so re-running synchronization on the same
day never duplicates work; bulk updates are transactional, so a batch either
lands in full or not at all.

The work queue is only ever a materialization of this table's pending
subset; nothing in the queue exists that the ledger does not know about.
*/
package ledger
