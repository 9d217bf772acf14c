// Package queue provides the durable local queue for transactions entered
// while the remote service is unreachable.
//
// The queue is a single SQLite table (embedded, WAL mode) holding pending and
// recently synced records plus their retry bookkeeping. It never talks to the
// network; the sync engine drives records to the remote service and uses the
// queue only for reads and bookkeeping updates.
//
// Record lifecycle:
//  1. Enqueue stores a pending record (synced = 0)
//  2. The sync engine calls MarkSynced or RecordAttemptFailure per attempt
//  3. PruneSynced deletes confirmed records after each drain
//
// Pending records are only ever deleted by Remove (explicit user action).
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/shopspring/decimal"

	"github.com/tallyapp/tally/internal/schema"
)

// Queue is the durable local transaction queue.
// It is safe for concurrent use.
type Queue struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	conn *sql.DB
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source used for enqueue and attempt
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New returns a queue backed by the SQLite file at path. No I/O happens until
// Open (or the first operation) is called.
func New(path string, opts ...Option) *Queue {
	q := &Queue{path: path, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Path returns the database file location.
func (q *Queue) Path() string {
	return q.path
}

// Open establishes the database and creates the schema on first use.
//
// Open is idempotent and safe to call concurrently: all callers share one
// connection pool. Any failure is wrapped with ErrStorageUnavailable; a
// failed Open leaves the queue closed so a later call may try again.
func (q *Queue) Open(ctx context.Context) error {
	_, err := q.db(ctx)
	return err
}

// db returns the open connection, opening it if necessary.
func (q *Queue) db(ctx context.Context) (*sql.DB, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.conn != nil {
		return q.conn, nil
	}

	conn, err := openDB(ctx, q.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	q.conn = conn
	return conn, nil
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping queue database: %w", err)
	}

	// The queue is tiny; a handful of connections is plenty.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := initSchema(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// initSchema creates the queue table and indexes. Idempotent.
func initSchema(ctx context.Context, conn *sql.DB) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS queued_transactions (
		local_id TEXT PRIMARY KEY,
		remote_id TEXT,

		-- Payload (immutable once enqueued)
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL,
		category_icon TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		tag_ids TEXT,  -- JSON array

		-- Bookkeeping
		enqueued_at TEXT NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0,
		sync_attempts INTEGER NOT NULL DEFAULT 0,
		last_sync_attempt_at TEXT,
		last_error TEXT,

		CHECK ((synced = 1) = (remote_id IS NOT NULL))
	);

	CREATE INDEX IF NOT EXISTS idx_queued_synced ON queued_transactions(synced);
	`

	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return nil
}

// Close closes the database connection after checkpointing the WAL.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.conn == nil {
		return nil
	}

	if _, err := q.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint queue WAL: %v\n", err)
	}

	err := q.conn.Close()
	q.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close queue database: %w", err)
	}
	return nil
}

// Enqueue validates p and stores it as a new pending record.
// It returns the generated local ID. Existing records are never overwritten.
func (q *Queue) Enqueue(ctx context.Context, p schema.Payload) (string, error) {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return "", err
	}

	conn, err := q.db(ctx)
	if err != nil {
		return "", err
	}

	tagsJSON, err := marshalTags(p.TagIDs)
	if err != nil {
		return "", err
	}

	now := q.now().UTC()
	localID, err := NewLocalID(now)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageIO, err)
	}

	query := `
	INSERT INTO queued_transactions (
		local_id, kind, amount, description, category, category_icon,
		occurred_at, notes, tag_ids, enqueued_at, synced, sync_attempts
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
	`

	_, err = conn.ExecContext(ctx, query,
		localID,
		string(p.Kind),
		p.Amount.String(),
		p.Description,
		p.Category,
		p.CategoryIcon,
		p.OccurredAt.Format(schema.DateLayout),
		p.Notes,
		tagsJSON,
		now.Format(timeLayout),
	)
	if err != nil {
		if isConstraintError(err) {
			return "", fmt.Errorf("%w: %s: %w", ErrIDCollision, localID, err)
		}
		return "", fmt.Errorf("%w: failed to enqueue transaction: %w", ErrStorageIO, err)
	}

	return localID, nil
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `
	SELECT local_id, remote_id, kind, amount, description, category,
	       category_icon, occurred_at, notes, tag_ids, enqueued_at,
	       synced, sync_attempts, last_sync_attempt_at, last_error
	FROM queued_transactions`

// ListPending returns every record that has not been confirmed yet.
// Callers must not depend on the order.
func (q *Queue) ListPending(ctx context.Context) ([]*schema.QueuedTransaction, error) {
	return q.list(ctx, selectColumns+` WHERE synced = 0 ORDER BY enqueued_at ASC`)
}

// ListAll returns every record regardless of state.
func (q *Queue) ListAll(ctx context.Context) ([]*schema.QueuedTransaction, error) {
	return q.list(ctx, selectColumns+` ORDER BY enqueued_at ASC`)
}

func (q *Queue) list(ctx context.Context, query string, args ...any) ([]*schema.QueuedTransaction, error) {
	conn, err := q.db(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query queue: %w", ErrStorageIO, err)
	}
	defer rows.Close()

	var items []*schema.QueuedTransaction
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating queue: %w", ErrStorageIO, err)
	}

	return items, nil
}

// Get returns a single record. Returns ErrNotFound if it does not exist.
func (q *Queue) Get(ctx context.Context, localID string) (*schema.QueuedTransaction, error) {
	items, err := q.list(ctx, selectColumns+` WHERE local_id = ?`, localID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, localID)
	}
	return items[0], nil
}

// MarkSynced records remote confirmation of a pending record.
// It is a no-op if the record no longer exists or is already synced.
func (q *Queue) MarkSynced(ctx context.Context, localID, remoteID string) error {
	if remoteID == "" {
		return fmt.Errorf("cannot mark %s synced without a remote ID", localID)
	}

	conn, err := q.db(ctx)
	if err != nil {
		return err
	}

	query := `UPDATE queued_transactions SET synced = 1, remote_id = ? WHERE local_id = ? AND synced = 0`
	if _, err := conn.ExecContext(ctx, query, remoteID, localID); err != nil {
		return fmt.Errorf("%w: failed to mark %s synced: %w", ErrStorageIO, localID, err)
	}
	return nil
}

// RecordAttemptFailure bumps the attempt counter of a record and stores msg
// as its last error, replacing any previous one.
// It is a no-op if the record no longer exists.
func (q *Queue) RecordAttemptFailure(ctx context.Context, localID, msg string) error {
	conn, err := q.db(ctx)
	if err != nil {
		return err
	}

	query := `
	UPDATE queued_transactions
	SET sync_attempts = sync_attempts + 1,
	    last_sync_attempt_at = ?,
	    last_error = ?
	WHERE local_id = ?
	`
	_, err = conn.ExecContext(ctx, query, q.now().UTC().Format(timeLayout), msg, localID)
	if err != nil {
		return fmt.Errorf("%w: failed to record attempt for %s: %w", ErrStorageIO, localID, err)
	}
	return nil
}

// Remove deletes a record unconditionally. Removing a missing record is not
// an error.
func (q *Queue) Remove(ctx context.Context, localID string) error {
	conn, err := q.db(ctx)
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM queued_transactions WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("%w: failed to remove %s: %w", ErrStorageIO, localID, err)
	}
	return nil
}

// PruneSynced deletes every confirmed record and returns how many were
// removed.
func (q *Queue) PruneSynced(ctx context.Context) (int, error) {
	conn, err := q.db(ctx)
	if err != nil {
		return 0, err
	}

	res, err := conn.ExecContext(ctx, `DELETE FROM queued_transactions WHERE synced = 1`)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to prune synced records: %w", ErrStorageIO, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count pruned records: %w", ErrStorageIO, err)
	}
	return int(n), nil
}

// CountPending returns the number of unconfirmed records.
func (q *Queue) CountPending(ctx context.Context) (int, error) {
	conn, err := q.db(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_transactions WHERE synced = 0`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: failed to count pending records: %w", ErrStorageIO, err)
	}
	return count, nil
}

// scanItem scans one row produced by selectColumns.
func scanItem(rows *sql.Rows) (*schema.QueuedTransaction, error) {
	var (
		item                     schema.QueuedTransaction
		remoteID, tagsJSON       sql.NullString
		lastAttemptAt, lastError sql.NullString
		kind, amount, occurredAt string
		enqueuedAt               string
		synced                   int
	)

	err := rows.Scan(
		&item.LocalID,
		&remoteID,
		&kind,
		&amount,
		&item.Payload.Description,
		&item.Payload.Category,
		&item.Payload.CategoryIcon,
		&occurredAt,
		&item.Payload.Notes,
		&tagsJSON,
		&enqueuedAt,
		&synced,
		&item.SyncAttempts,
		&lastAttemptAt,
		&lastError,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan queued transaction: %w", ErrStorageIO, err)
	}

	item.RemoteID = remoteID.String
	item.LastError = lastError.String
	item.Synced = synced == 1
	item.Payload.Kind = schema.Kind(kind)

	if item.Payload.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("%w: corrupt amount %q for %s: %w", ErrStorageIO, amount, item.LocalID, err)
	}
	if item.Payload.OccurredAt, err = time.Parse(schema.DateLayout, occurredAt); err != nil {
		return nil, fmt.Errorf("%w: corrupt occurred_at %q for %s: %w", ErrStorageIO, occurredAt, item.LocalID, err)
	}
	if item.EnqueuedAt, err = time.Parse(timeLayout, enqueuedAt); err != nil {
		return nil, fmt.Errorf("%w: corrupt enqueued_at %q for %s: %w", ErrStorageIO, enqueuedAt, item.LocalID, err)
	}
	if lastAttemptAt.Valid {
		t, err := time.Parse(timeLayout, lastAttemptAt.String)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt last_sync_attempt_at %q for %s: %w", ErrStorageIO, lastAttemptAt.String, item.LocalID, err)
		}
		item.LastSyncAttemptAt = &t
	}
	if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &item.Payload.TagIDs); err != nil {
			return nil, fmt.Errorf("%w: failed to unmarshal tags for %s: %w", ErrStorageIO, item.LocalID, err)
		}
	}

	return &item, nil
}

func marshalTags(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal tags: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// isConstraintError reports whether err is a SQLite constraint violation.
func isConstraintError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "constraint")
}
