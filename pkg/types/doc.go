// Package types defines the shared data model of the screening pipeline:
// zones, task seeds, ledger tasks, probe results and queue messages.
package types
