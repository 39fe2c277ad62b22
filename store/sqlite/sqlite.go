/*
Package sqlite provides a SQLite-backed filing.RecordStore.

PURPOSE:
  A keyed alternative to the spreadsheet. Returns live in one table with the
  tax reference as primary key, so lookups are indexed and updates address a
  row by key instead of by position.

DIFFERENCES FROM THE ROW STORES:
  - Append of an existing tax reference fails with ErrDuplicateTaxReference
  - Update is a single UPDATE ... WHERE tax_reference = ? statement; there
    is no read-then-write window, but concurrent updates to one key are
    still last-writer-wins

KEY TABLES:
  tax_returns: One row per return, amounts stored as decimal strings

CONCURRENCY:
  Uses sync.RWMutex around writes and reads. ":memory:" databases are pinned
  to a single connection, since each connection would otherwise see its own
  empty database.

USAGE:
  store, err := sqlite.New("./data/ct600.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := filing.NewService(store, tokens, client)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - filing/store.go: RecordStore contract
  - store/sheets: Spreadsheet-backed row store
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/ct600-gateway/filing"
)

// Store implements filing.RecordStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a store at dbPath. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.HasPrefix(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tax_returns (
		tax_reference TEXT PRIMARY KEY,
		company_name TEXT NOT NULL DEFAULT '',
		company_registration_number TEXT NOT NULL DEFAULT '',
		period_start TEXT NOT NULL DEFAULT '',
		period_end TEXT NOT NULL DEFAULT '',
		turnover TEXT NOT NULL DEFAULT '0',
		taxable_profit TEXT NOT NULL DEFAULT '0',
		tax_due TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'Draft',
		submission_reference TEXT NOT NULL DEFAULT '',
		submission_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tax_returns_submission_reference
		ON tax_returns(submission_reference) WHERE submission_reference <> '';
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE (filing.RecordStore interface)
// =============================================================================

const selectColumns = `
	SELECT tax_reference, company_name, company_registration_number,
	       period_start, period_end, turnover, taxable_profit, tax_due,
	       status, submission_reference, submission_date
	FROM tax_returns`

// ListAll returns every return in insertion order.
func (s *Store) ListAll(ctx context.Context) ([]filing.TaxReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY rowid`)
	if err != nil {
		return nil, storeError("list", err)
	}
	defer rows.Close()

	var out []filing.TaxReturn
	for rows.Next() {
		r, err := scanReturn(rows)
		if err != nil {
			return nil, storeError("list", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list", err)
	}
	return out, nil
}

// GetByKey returns the return with the tax reference, or nil.
func (s *Store) GetByKey(ctx context.Context, taxReference string) (*filing.TaxReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE tax_reference = ?`, taxReference)
	r, err := scanReturn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("get", err)
	}
	return &r, nil
}

// Update overwrites the return stored under taxReference. The tax reference
// column itself is left as is.
func (s *Store) Update(ctx context.Context, taxReference string, r filing.TaxReturn) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE tax_returns SET
			company_name = ?, company_registration_number = ?,
			period_start = ?, period_end = ?,
			turnover = ?, taxable_profit = ?, tax_due = ?,
			status = ?, submission_reference = ?, submission_date = ?,
			updated_at = ?
		WHERE tax_reference = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		r.CompanyName, r.CompanyRegistrationNumber,
		formatDate(r.PeriodStart), formatDate(r.PeriodEnd),
		r.Turnover.String(), r.TaxableProfit.String(), r.TaxDue.String(),
		r.Status, r.SubmissionReference, submissionDate(r.SubmissionDate),
		time.Now().UTC().Format(time.RFC3339),
		taxReference,
	)
	if err != nil {
		return false, storeError("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeError("update", err)
	}
	return n > 0, nil
}

// Append inserts a new return. An existing tax reference is rejected.
func (s *Store) Append(ctx context.Context, r filing.TaxReturn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO tax_returns
			(tax_reference, company_name, company_registration_number,
			 period_start, period_end, turnover, taxable_profit, tax_due,
			 status, submission_reference, submission_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.TaxReference, r.CompanyName, r.CompanyRegistrationNumber,
		formatDate(r.PeriodStart), formatDate(r.PeriodEnd),
		r.Turnover.String(), r.TaxableProfit.String(), r.TaxDue.String(),
		r.Status, r.SubmissionReference, submissionDate(r.SubmissionDate),
		now, now,
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: %s", filing.ErrDuplicateTaxReference, filing.SanitizeForLog(r.TaxReference))
	}
	if err != nil {
		return storeError("append", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanReturn(sc scanner) (filing.TaxReturn, error) {
	var (
		r           filing.TaxReturn
		start, end  string
		submittedAt sql.NullString
	)
	err := sc.Scan(
		&r.TaxReference, &r.CompanyName, &r.CompanyRegistrationNumber,
		&start, &end,
		&r.Turnover, &r.TaxableProfit, &r.TaxDue,
		&r.Status, &r.SubmissionReference, &submittedAt,
	)
	if err != nil {
		return filing.TaxReturn{}, err
	}
	r.PeriodStart, _ = filing.ParseDate(start)
	r.PeriodEnd, _ = filing.ParseDate(end)
	if submittedAt.Valid && submittedAt.String != "" {
		if t, err := time.Parse(time.RFC3339, submittedAt.String); err == nil {
			t = t.UTC()
			r.SubmissionDate = &t
		}
	}
	if r.Status == "" {
		r.Status = filing.StatusDraft
	}
	return r, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(filing.DateLayout)
}

func submissionDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func isConstraintViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func storeError(op string, err error) error {
	return &filing.ExternalServiceError{Service: "sqlite", Op: op, Err: err}
}
