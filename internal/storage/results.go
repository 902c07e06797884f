package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("livesearch/storage")

// Upsert writes results in a single transaction, matching rows by ID.
// New rows are appended to the ordering; existing rows keep their position
// and have FullName and Language replaced. Live subscriptions are notified
// only after the transaction commits.
//
// Any failure is returned as a *WriteError and none of the batch is applied.
// An empty batch is a valid no-op write.
func (s *SQLiteStore) Upsert(ctx context.Context, results []SearchResult) (err error) {
	ctx, span := tracer.Start(ctx, "storage.Upsert")
	span.SetAttributes(attribute.Int("results.count", len(results)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "upsert_failed")
		}
		span.End()
	}()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.isClosed() {
		return &WriteError{Count: len(results), Err: ErrClosed}
	}

	if err := s.upsertTx(ctx, results); err != nil {
		return &WriteError{Count: len(results), Err: err}
	}

	if len(results) > 0 {
		s.notify()
	}
	return nil
}

func (s *SQLiteStore) upsertTx(ctx context.Context, results []SearchResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO search_results (id, full_name, language, inserted_seq, updated_at_unix_ms)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(inserted_seq), 0) + 1 FROM search_results), ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			language = excluded.language,
			updated_at_unix_ms = excluded.updated_at_unix_ms
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, r.ID, r.FullName, nullString(r.Language), now); err != nil {
			return fmt.Errorf("failed to upsert result %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

// Query returns the rows matching p ordered by first insertion.
func (s *SQLiteStore) Query(ctx context.Context, p Predicate) ([]SearchResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, full_name, language, inserted_seq, updated_at_unix_ms
		FROM search_results
		WHERE language = ? AND instr(lower(full_name), lower(?)) > 0
		ORDER BY inserted_seq ASC
	`, p.Language, p.Term)
	if err != nil {
		return nil, fmt.Errorf("failed to query search results: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}
	return results, nil
}

// Get returns a single row by ID, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*SearchResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, language, inserted_seq, updated_at_unix_ms
		FROM search_results
		WHERE id = ?
	`, id)

	r, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// Count returns the number of cached rows.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM search_results`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count search results: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (SearchResult, error) {
	var (
		r    SearchResult
		lang sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.FullName, &lang, &r.InsertedSeq, &r.UpdatedAtUnixMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan search result: %w", err)
	}
	if lang.Valid {
		v := lang.String
		r.Language = &v
	}
	return r, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
