package ledger

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/blwatch/blwatch/pkg/metrics"
	"github.com/blwatch/blwatch/pkg/types"
)

// Table creation DDL. check_date is stored as an ISO-8601 text date so the
// lexicographic MAX matches the calendar order.
const createTableSQL = `
CREATE TABLE IF NOT EXISTS ip_check (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ip_address TEXT NOT NULL,
	dns TEXT NOT NULL,
	status TEXT NOT NULL,
	result TEXT,
	details TEXT,
	check_date TEXT NOT NULL,
	last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (ip_address, dns, check_date)
);
CREATE INDEX IF NOT EXISTS idx_ip_check_date_status ON ip_check (check_date, status);
`

const taskColumns = "id, ip_address, dns, status, result, details, check_date, last_updated"

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the ledger database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// Single writer; readers share the same handle.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Initialize creates the ledger table if absent.
func (s *SQLiteStore) Initialize() error {
	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	return nil
}

// InsertPending inserts seeds as pending rows for checkDate, ignoring
// duplicates on the uniqueness key.
func (s *SQLiteStore) InsertPending(seeds []types.Seed, checkDate string) (int64, error) {
	if len(seeds) == 0 {
		return 0, nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("failed to begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO ip_check (ip_address, dns, status, check_date, last_updated)
		VALUES (?, ?, 'pending', ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var inserted int64
	for _, seed := range seeds {
		res, err := stmt.Exec(seed.IP, seed.Zone.DNS, checkDate, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert task %s/%s: %w", seed.IP, seed.Zone.DNS, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit inserts: %w", err)
	}
	return inserted, nil
}

// FetchByDate returns every row for checkDate.
func (s *SQLiteStore) FetchByDate(checkDate string) ([]types.Task, error) {
	var tasks []types.Task
	err := s.db.Select(&tasks,
		"SELECT "+taskColumns+" FROM ip_check WHERE check_date = ?", checkDate)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tasks for %s: %w", checkDate, err)
	}
	return tasks, nil
}

// FetchPendingByDate returns the pending subset for checkDate.
func (s *SQLiteStore) FetchPendingByDate(checkDate string) ([]types.Task, error) {
	var tasks []types.Task
	err := s.db.Select(&tasks,
		"SELECT "+taskColumns+" FROM ip_check WHERE check_date = ? AND status = ?",
		checkDate, types.TaskStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending tasks for %s: %w", checkDate, err)
	}
	return tasks, nil
}

// FetchByDateResult returns rows for checkDate with the given result.
func (s *SQLiteStore) FetchByDateResult(checkDate string, result types.ProbeResult) ([]types.Task, error) {
	var tasks []types.Task
	err := s.db.Select(&tasks,
		"SELECT "+taskColumns+" FROM ip_check WHERE check_date = ? AND result = ?",
		checkDate, result)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s tasks for %s: %w", result, checkDate, err)
	}
	return tasks, nil
}

// FetchByLatestDate returns rows with the given result for the most recent
// check_date in the ledger.
func (s *SQLiteStore) FetchByLatestDate(result types.ProbeResult) ([]types.Task, error) {
	var tasks []types.Task
	err := s.db.Select(&tasks,
		"SELECT "+taskColumns+` FROM ip_check
		 WHERE check_date = (SELECT MAX(check_date) FROM ip_check) AND result = ?`,
		result)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s tasks for latest date: %w", result, err)
	}
	return tasks, nil
}

// BulkUpdate applies a batch of probe outcomes in one transaction.
func (s *SQLiteStore) BulkUpdate(updates []types.TaskUpdate, checkDate string) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin update transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		UPDATE ip_check
		SET status = ?, result = ?, details = ?, last_updated = ?
		WHERE ip_address = ? AND dns = ? AND check_date = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare update: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, u := range updates {
		if _, err := stmt.Exec(u.Status, u.Result, u.Details, now, u.IP, u.DNS, checkDate); err != nil {
			metrics.BulkUpdateFailures.Inc()
			return fmt.Errorf("failed to update task %s/%s: %w", u.IP, u.DNS, err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.BulkUpdateFailures.Inc()
		return fmt.Errorf("failed to commit updates: %w", err)
	}

	metrics.BulkUpdatesTotal.Inc()
	metrics.BulkUpdateRowsTotal.Add(float64(len(updates)))
	return nil
}

// DeleteBefore removes rows older than checkDate.
func (s *SQLiteStore) DeleteBefore(checkDate string) (int64, error) {
	res, err := s.db.Exec("DELETE FROM ip_check WHERE check_date < ?", checkDate)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old rows: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
