// Package runner sequences one daily screening pass: generate the task
// set, synchronize the ledger and queue, drain the queue, then promote the
// listed tasks to the analytic store.
package runner
