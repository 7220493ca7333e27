package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/herdlinx-lab/herdlinx/internal/api/v1"
	"github.com/herdlinx-lab/herdlinx/internal/core/projection"
	"github.com/herdlinx-lab/herdlinx/internal/core/storage"
	_ "modernc.org/sqlite" // Register sqlite driver
)

const connectPingTimeout = 5 * time.Second

// Adapter implements the edge-side stores (storage.LedgerStore,
// storage.CursorStore, storage.PayloadBuffer, storage.EdgeBatchStore) on a
// single SQLite file. SQLite serializes writers, which is exactly the
// single-writer discipline the ledger wants.
type Adapter struct {
	db                     *sql.DB
	stmtEventsForLivestock *sql.Stmt
	stmtEventsSince        *sql.Stmt
	stmtGetView            *sql.Stmt
	stmtResumePoint        *sql.Stmt
	stmtMarkAcknowledged   *sql.Stmt
	stmtInsertPayload      *sql.Stmt
	stmtPayloadIDByHash    *sql.Stmt
	stmtMarkPayloadDone    *sql.Stmt
	stmtMarkPayloadError   *sql.Stmt
	stmtResolveBatch       *sql.Stmt
}

// NewAdapter opens (or creates) the ledger file at path.
//
// IMPORTANT: Schema must be initialized separately via migrations before the
// first append.
func NewAdapter(path string) (*Adapter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// One connection: SQLite has a single writer anyway, and a pool of one
	// removes SQLITE_BUSY from the failure surface.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	adapter := &Adapter{db: db}
	for _, p := range []struct {
		dst   **sql.Stmt
		query string
		name  string
	}{
		{&adapter.stmtEventsForLivestock, queryEventsForLivestock, "eventsForLivestock"},
		{&adapter.stmtEventsSince, queryEventsSince, "eventsSince"},
		{&adapter.stmtGetView, queryGetView, "getView"},
		{&adapter.stmtResumePoint, queryResumePoint, "resumePoint"},
		{&adapter.stmtMarkAcknowledged, queryMarkAcknowledged, "markAcknowledged"},
		{&adapter.stmtInsertPayload, queryInsertPayload, "insertPayload"},
		{&adapter.stmtPayloadIDByHash, queryPayloadIDByHash, "payloadIDByHash"},
		{&adapter.stmtMarkPayloadDone, queryMarkPayloadProcessed, "markPayloadProcessed"},
		{&adapter.stmtMarkPayloadError, queryMarkPayloadError, "markPayloadError"},
		{&adapter.stmtResolveBatch, queryResolveBatch, "resolveBatch"},
	} {
		stmt, err := db.Prepare(p.query)
		if err != nil {
			adapter.Close()
			return nil, fmt.Errorf("failed to prepare %s statement: %w", p.name, err)
		}
		*p.dst = stmt
	}

	slog.Info("[Ledger] SQLite adapter initialized", "path", path)
	return adapter, nil
}

// AppendEvent appends one event and refreshes the derived view in the same
// transaction. The view row is rebuilt by replaying the animal's full event
// sequence, so an out-of-order occurred_at never leaves the view stale.
func (a *Adapter) AppendEvent(ctx context.Context, event *v1.Event) error {
	payloadJSON, err := marshalPayload(event)
	if err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append event: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if event.Kind == v1.KindInduction {
		var inducted bool
		if err := tx.QueryRowContext(ctx, queryHasInduction, event.LivestockKey).Scan(&inducted); err != nil {
			return fmt.Errorf("append event: check induction: %w", err)
		}
		if inducted {
			return storage.ErrDuplicateInduction
		}
	}

	recordedAt := time.Now().UTC()

	var recordedSeq int64
	err = tx.QueryRowContext(ctx, querySaveEvent,
		event.EventID,
		event.LivestockKey,
		string(event.Kind),
		event.OccurredAt,
		recordedAt,
		payloadJSON,
	).Scan(&recordedSeq)

	if err == sql.ErrNoRows {
		// ON CONFLICT DO NOTHING - event_id already in the ledger
		return storage.ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("append event: insert: %w", err)
	}

	event.RecordedAt = recordedAt
	event.RecordedSeq = recordedSeq

	history, err := a.eventsForLivestockTx(ctx, tx, event.LivestockKey)
	if err != nil {
		return fmt.Errorf("append event: load history: %w", err)
	}

	view := projection.Replay(history)
	if view != nil {
		if err := upsertViewTx(ctx, tx, view); err != nil {
			return fmt.Errorf("append event: refresh view: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append event: commit: %w", err)
	}

	slog.Debug("[Ledger] Appended event",
		"event_id", event.EventID,
		"kind", event.Kind,
		"livestock_key", event.LivestockKey,
		"recorded_seq", recordedSeq)
	return nil
}

// EventsForLivestock returns an animal's full history in canonical fold order.
func (a *Adapter) EventsForLivestock(ctx context.Context, livestockKey string) ([]*v1.Event, error) {
	rows, err := a.stmtEventsForLivestock.QueryContext(ctx, livestockKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query livestock events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// EventsSince returns up to limit events of one kind with recorded_seq
// strictly greater than cursor, ascending.
func (a *Adapter) EventsSince(ctx context.Context, kind v1.Kind, cursor int64, limit int) ([]*v1.Event, error) {
	rows, err := a.stmtEventsSince.QueryContext(ctx, string(kind), cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events since cursor: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// View returns the derived current-state row for one animal.
func (a *Adapter) View(ctx context.Context, livestockKey string) (*projection.LivestockView, error) {
	view, err := scanViewRow(a.stmtGetView.QueryRowContext(ctx, livestockKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return view, nil
}

// ResumePoint returns the last acknowledged recorded_seq for a kind, 0 if the
// kind has never synced.
func (a *Adapter) ResumePoint(ctx context.Context, kind v1.Kind) (int64, error) {
	var seq int64
	err := a.stmtResumePoint.QueryRowContext(ctx, string(kind)).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sync cursor: %w", err)
	}
	return seq, nil
}

// MarkAcknowledged advances the per-kind watermark. Regressions are silently
// ignored by the upsert's WHERE clause.
func (a *Adapter) MarkAcknowledged(ctx context.Context, kind v1.Kind, watermark int64) error {
	if _, err := a.stmtMarkAcknowledged.ExecContext(ctx, string(kind), watermark, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to advance sync cursor: %w", err)
	}
	return nil
}

// RecordPayload buffers one raw payload under its content hash. On a replay
// it returns the existing buffer row's id together with ErrDuplicatePayload.
func (a *Adapter) RecordPayload(ctx context.Context, raw, hash string) (int64, error) {
	var id int64
	err := a.stmtInsertPayload.QueryRowContext(ctx, raw, hash, time.Now().UTC()).Scan(&id)
	if err == sql.ErrNoRows {
		if scanErr := a.stmtPayloadIDByHash.QueryRowContext(ctx, hash).Scan(&id); scanErr != nil {
			return 0, fmt.Errorf("failed to resolve duplicate payload: %w", scanErr)
		}
		return id, storage.ErrDuplicatePayload
	}
	if err != nil {
		return 0, fmt.Errorf("failed to buffer payload: %w", err)
	}
	return id, nil
}

// MarkPayloadProcessed finalizes a buffered payload after its event reached
// the ledger.
func (a *Adapter) MarkPayloadProcessed(ctx context.Context, id int64, batchName string) error {
	if _, err := a.stmtMarkPayloadDone.ExecContext(ctx, batchName, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to mark payload processed: %w", err)
	}
	return nil
}

// MarkPayloadError records a parse or append failure against the buffer row.
func (a *Adapter) MarkPayloadError(ctx context.Context, id int64, reason string) error {
	if _, err := a.stmtMarkPayloadError.ExecContext(ctx, reason, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to mark payload error: %w", err)
	}
	return nil
}

// BufferStats returns payload counts grouped by status.
func (a *Adapter) BufferStats(ctx context.Context) (map[string]int, error) {
	rows, err := a.db.QueryContext(ctx, queryBufferStats)
	if err != nil {
		return nil, fmt.Errorf("failed to query buffer stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan buffer stats: %w", err)
		}
		stats[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating buffer stats: %w", err)
	}
	return stats, nil
}

// ResolveOrCreateBatch creates the named local batch row if absent.
func (a *Adapter) ResolveOrCreateBatch(ctx context.Context, name, sourceType, notes string) (bool, error) {
	result, err := a.stmtResolveBatch.ExecContext(ctx, name, sourceType, notes, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to resolve batch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check batch creation: %w", err)
	}
	return affected > 0, nil
}

// DB returns the underlying *sql.DB, shared with the migration runner.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Close closes all prepared statements and the database file.
func (a *Adapter) Close() error {
	var firstErr error

	for _, stmt := range []*sql.Stmt{
		a.stmtEventsForLivestock,
		a.stmtEventsSince,
		a.stmtGetView,
		a.stmtResumePoint,
		a.stmtMarkAcknowledged,
		a.stmtInsertPayload,
		a.stmtPayloadIDByHash,
		a.stmtMarkPayloadDone,
		a.stmtMarkPayloadError,
		a.stmtResolveBatch,
	} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close statement: %w", err)
		}
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close database: %w", err)
	}

	if firstErr != nil {
		return firstErr
	}

	slog.Info("[Ledger] SQLite adapter closed gracefully")
	return nil
}

func (a *Adapter) eventsForLivestockTx(ctx context.Context, tx *sql.Tx, livestockKey string) ([]*v1.Event, error) {
	rows, err := tx.QueryContext(ctx, queryEventsForLivestock, livestockKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query livestock events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func upsertViewTx(ctx context.Context, tx *sql.Tx, view *projection.LivestockView) error {
	_, err := tx.ExecContext(ctx, queryUpsertView,
		view.LivestockKey,
		view.BatchName,
		view.Pen,
		view.Sex,
		view.CurrentLFID,
		view.CurrentEPC,
		viewWeightArg(view),
		view.Notes,
		view.Retired,
		view.InductedAt,
		view.UpdatedAt,
	)
	return err
}

func collectEvents(rows *sql.Rows) ([]*v1.Event, error) {
	var events []*v1.Event
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
