package ledger

import (
	"github.com/blwatch/blwatch/pkg/types"
)

// Store defines the interface for the durable per-day task ledger.
// Writes are expected to flow through a single writer; reads are safe from
// any goroutine.
type Store interface {
	// Initialize creates the ledger table if absent.
	Initialize() error

	// InsertPending inserts seeds as pending rows for checkDate. Duplicates
	// on (ip, dns, check_date) are ignored. Returns the number of rows
	// actually inserted.
	InsertPending(seeds []types.Seed, checkDate string) (int64, error)

	// FetchByDate returns every row for checkDate.
	FetchByDate(checkDate string) ([]types.Task, error)

	// FetchPendingByDate returns the pending subset for checkDate.
	FetchPendingByDate(checkDate string) ([]types.Task, error)

	// FetchByDateResult returns rows for checkDate with the given result.
	FetchByDateResult(checkDate string, result types.ProbeResult) ([]types.Task, error)

	// FetchByLatestDate returns rows with the given result for the most
	// recent check_date present in the ledger.
	FetchByLatestDate(result types.ProbeResult) ([]types.Task, error)

	// BulkUpdate applies the updates to the rows keyed by
	// (ip, dns, checkDate) inside a single transaction. Partial failure
	// rolls the whole batch back.
	BulkUpdate(updates []types.TaskUpdate, checkDate string) error

	// DeleteBefore removes rows older than checkDate. Returns rows deleted.
	DeleteBefore(checkDate string) (int64, error)

	// Close releases the underlying connections.
	Close() error
}
