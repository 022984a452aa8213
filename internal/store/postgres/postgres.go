// Package postgres implements the reconciler stores on PostgreSQL.
//
// PostgreSQL is the durable source of truth for jobs, balances, and the
// ledger. Two schema-level guarantees do the heavy lifting:
//
//  1. ledger_entries has a unique constraint on (reference, entry_type).
//     InsertEntry relies on ON CONFLICT DO NOTHING so a duplicate apply
//     from a racing invocation reports zero rows instead of erroring or
//     double-writing.
//  2. Balance mutation is a single UPDATE ... SET remaining = remaining +
//     delta RETURNING remaining, atomic under the row lock.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/fertilia/reconciler/internal/domain"
	"github.com/fertilia/reconciler/internal/store"
)

// Store implements store.LedgerStore, store.AccountStore, and
// store.JobStore against one connection pool.
//
// Lifecycle: open once at startup with Open, share across invocations,
// Close during graceful shutdown.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and tunes the pool for many short,
// concurrent invocations.
func Open(postgresURL string) (*Store, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connection failed: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStore wraps an existing pool. Used by the seeder and tests that
// manage the connection themselves.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for collaborators that query their own
// tables (pricing catalog).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertEntry appends a ledger entry unless one already exists for the
// same (reference, type). The conditional insert is the idempotency
// guard: constraint conflict means another invocation already applied
// this effect.
func (s *Store) InsertEntry(ctx context.Context, e domain.LedgerEntry) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			ledger_id, user_id, ts, entry_type, amount,
			reference, description, anomaly_note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		ON CONFLICT (reference, entry_type) DO NOTHING
	`, e.LedgerID, e.UserID, e.Timestamp, string(e.Type), e.Amount,
		e.Reference, e.Description, e.AnomalyNote)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	if rows == 0 {
		return store.ErrDuplicateEntry
	}
	return nil
}

func (s *Store) FindEntry(ctx context.Context, jobID string, typ domain.EntryType) (*domain.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ledger_id, user_id, ts, entry_type, amount,
		       reference, description, COALESCE(anomaly_note, '')
		FROM ledger_entries
		WHERE reference = $1 AND entry_type = $2
	`, jobID, string(typ))

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ledger entry: %w", err)
	}
	return e, nil
}

func (s *Store) EntriesByJob(ctx context.Context, jobID string) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ledger_id, user_id, ts, entry_type, amount,
		       reference, description, COALESCE(anomaly_note, '')
		FROM ledger_entries
		WHERE reference = $1
		ORDER BY ts
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(r rowScanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var typ string
	if err := r.Scan(&e.LedgerID, &e.UserID, &e.Timestamp, &typ, &e.Amount,
		&e.Reference, &e.Description, &e.AnomalyNote); err != nil {
		return nil, err
	}
	e.Type = domain.EntryType(typ)
	return &e, nil
}

// AdjustBalance applies a signed delta atomically under the row lock and
// returns the new balance. Overdraft is allowed; the balance simply goes
// negative.
func (s *Store) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var remaining decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		UPDATE credit_accounts
		SET remaining = remaining + $1, updated_at = NOW()
		WHERE user_id = $2
		RETURNING remaining
	`, delta, userID).Scan(&remaining)

	if err == sql.ErrNoRows {
		return decimal.Zero, store.ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("adjust balance: %w", err)
	}
	return remaining, nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*domain.CreditAccount, error) {
	var a domain.CreditAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, remaining, updated_at
		FROM credit_accounts
		WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.Remaining, &a.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var j domain.Job
	var status string
	var seconds int64
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, user_id, status, seconds, model, reconciled
		FROM jobs
		WHERE job_id = $1
	`, jobID).Scan(&j.JobID, &j.UserID, &status, &seconds, &j.Model, &j.Reconciled)

	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	j.Status = domain.JobStatus(status)
	j.Seconds = uint(seconds)
	return &j, nil
}

func (s *Store) MarkReconciled(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET reconciled = TRUE WHERE job_id = $1
	`, jobID); err != nil {
		return fmt.Errorf("mark reconciled: %w", err)
	}
	return nil
}

// ListUnreconciled pages terminal, unreconciled jobs with keyset
// pagination on job_id. Keyset over OFFSET because reconciled jobs drop
// out of the result set as the sweep progresses; a shifting OFFSET would
// skip rows.
func (s *Store) ListUnreconciled(ctx context.Context, cursor string, limit int) ([]domain.Job, string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, user_id, status, seconds, model, reconciled
		FROM jobs
		WHERE reconciled = FALSE
		  AND status IN ('completed', 'failed')
		  AND job_id > $1
		ORDER BY job_id
		LIMIT $2
	`, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("list unreconciled: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var j domain.Job
		var status string
		var seconds int64
		if err := rows.Scan(&j.JobID, &j.UserID, &status, &seconds, &j.Model, &j.Reconciled); err != nil {
			return nil, "", fmt.Errorf("scan job: %w", err)
		}
		j.Status = domain.JobStatus(status)
		j.Seconds = uint(seconds)
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(jobs) == limit {
		next = jobs[len(jobs)-1].JobID
	}
	return jobs, next, nil
}

// Compile-time interface checks.
var (
	_ store.LedgerStore  = (*Store)(nil)
	_ store.AccountStore = (*Store)(nil)
	_ store.JobStore     = (*Store)(nil)
)
