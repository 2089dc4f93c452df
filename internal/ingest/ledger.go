// Package ingest drives the per-document ingestion pipeline: DMS fetch,
// extraction, chunking, embedding, and vector upsert, plus a local
// operational ledger of the outcome of every ingest attempt.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// IngestRecord is one durable, local audit row written after every IngestOne
// call. It is operational history for the ingest driver, not conversation
// memory, and is independent of the vector store's own chunk state.
type IngestRecord struct {
	DocID          int
	Title          string
	Status         string
	ChunksCreated  int
	PagesProcessed int
	Reason         string
	Error          string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Ledger persists IngestRecords and serves the GET /ingest/history endpoint.
// Implementations must be safe for concurrent use.
type Ledger interface {
	// Append writes one IngestRecord.
	Append(ctx context.Context, rec IngestRecord) error
	// Recent returns the most recent n records, newest-first.
	Recent(ctx context.Context, n int) ([]IngestRecord, error)
	// Close releases any resources held by the ledger.
	Close() error
}

// NewLedger opens the SQLite-backed ledger at path, or returns a no-op
// ledger when path is "disabled" (INGEST_LEDGER_PATH=disabled).
func NewLedger(path string) (Ledger, error) {
	if path == "disabled" {
		return noopLedger{}, nil
	}
	return openSQLiteLedger(path)
}

// SQLiteLedger is a Ledger backed by a local SQLite database.
type SQLiteLedger struct {
	db *sql.DB
}

func openSQLiteLedger(path string) (*SQLiteLedger, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ingest: open ledger %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent ingest.
	db.SetMaxOpenConns(1)

	l := &SQLiteLedger{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ingest_records (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    doc_id          INTEGER NOT NULL,
    title           TEXT    NOT NULL,
    status          TEXT    NOT NULL,
    chunks_created  INTEGER NOT NULL,
    pages_processed INTEGER NOT NULL,
    reason          TEXT    NOT NULL,
    error           TEXT    NOT NULL,
    started_at      INTEGER NOT NULL,
    finished_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ingest_records_finished_at
    ON ingest_records (finished_at DESC);
`
	if _, err := l.db.Exec(ddl); err != nil {
		return fmt.Errorf("ingest: migrate ledger: %w", err)
	}
	return nil
}

// Append persists one IngestRecord.
func (l *SQLiteLedger) Append(ctx context.Context, rec IngestRecord) error {
	const q = `
INSERT INTO ingest_records
    (doc_id, title, status, chunks_created, pages_processed, reason, error, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := l.db.ExecContext(ctx, q,
		rec.DocID, rec.Title, rec.Status, rec.ChunksCreated, rec.PagesProcessed,
		rec.Reason, rec.Error, rec.StartedAt.Unix(), rec.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("ingest: append ledger record: %w", err)
	}
	return nil
}

// Recent returns the n most recently finished records, newest-first.
func (l *SQLiteLedger) Recent(ctx context.Context, n int) ([]IngestRecord, error) {
	const q = `
SELECT doc_id, title, status, chunks_created, pages_processed, reason, error, started_at, finished_at
FROM   ingest_records
ORDER  BY finished_at DESC, id DESC
LIMIT  ?`

	rows, err := l.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("ingest: query ledger: %w", err)
	}
	defer rows.Close()

	var out []IngestRecord
	for rows.Next() {
		var rec IngestRecord
		var started, finished int64
		if err := rows.Scan(&rec.DocID, &rec.Title, &rec.Status, &rec.ChunksCreated, &rec.PagesProcessed,
			&rec.Reason, &rec.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("ingest: scan ledger row: %w", err)
		}
		rec.StartedAt = time.Unix(started, 0)
		rec.FinishedAt = time.Unix(finished, 0)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ingest: ledger rows: %w", err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (l *SQLiteLedger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("ingest: close ledger: %w", err)
	}
	return nil
}

// noopLedger discards every record. Used when INGEST_LEDGER_PATH=disabled.
type noopLedger struct{}

func (noopLedger) Append(context.Context, IngestRecord) error        { return nil }
func (noopLedger) Recent(context.Context, int) ([]IngestRecord, error) { return nil, nil }
func (noopLedger) Close() error                                       { return nil }
