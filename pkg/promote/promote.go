package promote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/blwatch/blwatch/pkg/log"
	"github.com/blwatch/blwatch/pkg/metrics"
	"github.com/blwatch/blwatch/pkg/types"
)

const undefinedTableCode = "42P01"

const createTableSQL = `
CREATE TABLE IF NOT EXISTS blacklisted_tasks (
	id SERIAL PRIMARY KEY,
	ip_address TEXT NOT NULL,
	dns TEXT NOT NULL,
	status TEXT NOT NULL,
	result TEXT,
	details TEXT,
	check_date DATE NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (ip_address, dns, check_date)
)`

const upsertSQL = `
INSERT INTO blacklisted_tasks (ip_address, dns, status, result, details, check_date, last_updated)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (ip_address, dns, check_date)
DO UPDATE SET
	status = excluded.status,
	result = excluded.result,
	details = excluded.details,
	last_updated = excluded.last_updated`

// Promoter copies listed tasks from the ledger into the shared analytic
// Postgres, where downstream tooling and dashboards read them.
type Promoter struct {
	db     *sqlx.DB
	mirror *Mirror
}

// Open connects to the analytic store at dsn (keyword/value form).
func Open(dsn string) (*Promoter, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to analytic store: %w", err)
	}
	return &Promoter{db: db}, nil
}

// WithMirror attaches an optional document-store mirror that receives the
// same rows after each successful promotion.
func (p *Promoter) WithMirror(m *Mirror) *Promoter {
	p.mirror = m
	return p
}

// EnsureTable creates the destination table if absent.
func (p *Promoter) EnsureTable(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create blacklisted_tasks: %w", err)
	}
	return nil
}

// Promote upserts the tasks keyed by (ip, dns, check_date). A missing
// destination table is created on the fly and the batch retried once.
func (p *Promoter) Promote(ctx context.Context, tasks []types.Task) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}

	logger := log.WithComponent("promote")

	err := p.upsert(ctx, tasks)
	if isUndefinedTable(err) {
		logger.Warn().Msg("destination table missing, creating it")
		if err = p.EnsureTable(ctx); err != nil {
			return 0, err
		}
		err = p.upsert(ctx, tasks)
	}
	if err != nil {
		return 0, err
	}

	metrics.TasksPromoted.Add(float64(len(tasks)))

	if p.mirror != nil {
		// The relational store is the record; the mirror is best-effort.
		if err := p.mirror.Upsert(ctx, tasks); err != nil {
			logger.Error().Err(err).Msg("mirror upsert failed")
		}
	}
	return len(tasks), nil
}

func (p *Promoter) upsert(ctx context.Context, tasks []types.Task) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin promotion transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, p.db.Rebind(upsertSQL))
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, t := range tasks {
		_, err := stmt.ExecContext(ctx, t.IPAddress, t.DNS, t.Status, t.Result, t.Details, t.CheckDate, now)
		if err != nil {
			return fmt.Errorf("failed to promote task %s/%s: %w", t.IPAddress, t.DNS, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit promotion: %w", err)
	}
	return nil
}

// Close releases the database connections.
func (p *Promoter) Close() error {
	return p.db.Close()
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTableCode
}
