package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/herdlinx-lab/herdlinx/internal/core/herd"
	"github.com/herdlinx-lab/herdlinx/internal/core/storage"
)

// claimEvent reports whether this delivery is the first for (tenant,
// event_id). A false return means the record is a noop replay.
func claimEvent(ctx context.Context, tx *sql.Tx, tenant, eventID string) (bool, error) {
	result, err := tx.ExecContext(ctx, queryGuardEvent, tenant, eventID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check event claim: %w", err)
	}
	return affected > 0, nil
}

// resolvePen returns the pen id for a tenant-scoped number, creating the pen
// with the default capacity when it does not exist yet. A location riding
// along on a later record refreshes the stored description.
func resolvePen(ctx context.Context, tx *sql.Tx, tenant, number, description string, now time.Time) (*int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, queryPenIDByNumber, tenant, number).Scan(&id)
	if err == sql.ErrNoRows {
		err = tx.QueryRowContext(ctx, queryInsertPen,
			tenant, number, herd.DefaultPenCapacity, description, now,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to create pen %q: %w", number, err)
		}
		return &id, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pen %q: %w", number, err)
	}

	if description != "" {
		if _, err := tx.ExecContext(ctx, queryRefreshPen, id, description, now); err != nil {
			return nil, fmt.Errorf("failed to refresh pen %q: %w", number, err)
		}
	}
	return &id, nil
}

// batchRef is a resolved batch: its id and its effective pen link after any
// refresh from the record.
type batchRef struct {
	id    int64
	penID *int64
}

// resolveBatch returns the batch for a tenant-scoped name, creating it on
// first reference. For an existing batch, fields present on the record
// (funder, lot, pen link) refresh the stored values.
func resolveBatch(ctx context.Context, tx *sql.Tx, tenant, name, funder, lot string, penID *int64, now time.Time) (*batchRef, error) {
	var ref batchRef
	var storedPen sql.NullInt64
	err := tx.QueryRowContext(ctx, queryBatchRefByName, tenant, name).Scan(&ref.id, &storedPen)
	if err == sql.ErrNoRows {
		err = tx.QueryRowContext(ctx, queryInsertBatch,
			tenant, name, funder, lot, nullableID(penID), now,
		).Scan(&ref.id)
		if err != nil {
			return nil, fmt.Errorf("failed to create batch %q: %w", name, err)
		}
		ref.penID = penID
		return &ref, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve batch %q: %w", name, err)
	}

	if storedPen.Valid {
		ref.penID = &storedPen.Int64
	}
	if funder != "" || lot != "" || penID != nil {
		if _, err := tx.ExecContext(ctx, queryRefreshBatch,
			ref.id, funder, lot, nullableID(penID), now,
		); err != nil {
			return nil, fmt.Errorf("failed to refresh batch %q: %w", name, err)
		}
		if penID != nil {
			ref.penID = penID
		}
	}
	return &ref, nil
}

type cattleRef struct {
	id     int64
	lfTag  string
	uhfTag string
}

// lookupCattleTags loads the aggregate id and current tag pair, mapping a
// missing row to storage.ErrLivestockNotFound.
func lookupCattleTags(ctx context.Context, tx *sql.Tx, tenant, livestockKey string) (*cattleRef, error) {
	var ref cattleRef
	err := tx.QueryRowContext(ctx, queryCattleTagsByKey, tenant, livestockKey).Scan(
		&ref.id, &ref.lfTag, &ref.uhfTag,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrLivestockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up cattle %q: %w", livestockKey, err)
	}
	return &ref, nil
}

func audit(ctx context.Context, tx *sql.Tx, cattleID int64, action, detail string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, queryInsertAuditEntry,
		cattleID, action, detail, herd.RecordedByIngestion, now,
	); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCattleRow(row scanner) (*herd.Cattle, error) {
	var c herd.Cattle
	var batchID, penID sql.NullInt64

	err := row.Scan(
		&c.ID, &c.Tenant, &c.LivestockKey, &c.Sex, &c.WeightKG, &c.Status,
		&c.LFTag, &c.UHFTag, &batchID, &penID, &c.Notes,
		&c.InductedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if batchID.Valid {
		c.BatchID = &batchID.Int64
	}
	if penID.Valid {
		c.PenID = &penID.Int64
	}
	return &c, nil
}

func (a *Adapter) loadWeightHistory(ctx context.Context, cattleID int64) ([]herd.WeightEntry, error) {
	rows, err := a.db.QueryContext(ctx, queryGetWeightHistory, cattleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query weight history: %w", err)
	}
	defer rows.Close()

	var entries []herd.WeightEntry
	for rows.Next() {
		var e herd.WeightEntry
		if err := rows.Scan(&e.EventID, &e.WeightKG, &e.RecordedAt, &e.RecordedBy); err != nil {
			return nil, fmt.Errorf("failed to scan weight entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating weight history: %w", err)
	}
	return entries, nil
}

func (a *Adapter) loadTagPairHistory(ctx context.Context, cattleID int64) ([]herd.TagPairEntry, error) {
	rows, err := a.db.QueryContext(ctx, queryGetTagPairHistory, cattleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tag pair history: %w", err)
	}
	defer rows.Close()

	var entries []herd.TagPairEntry
	for rows.Next() {
		var e herd.TagPairEntry
		if err := rows.Scan(&e.EventID, &e.LFTag, &e.UHFTag, &e.ReplacedAt, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan tag pair entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tag pair history: %w", err)
	}
	return entries, nil
}

func (a *Adapter) loadAuditLog(ctx context.Context, cattleID int64) ([]herd.AuditEntry, error) {
	rows, err := a.db.QueryContext(ctx, queryGetAuditLog, cattleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []herd.AuditEntry
	for rows.Next() {
		var e herd.AuditEntry
		if err := rows.Scan(&e.Action, &e.Detail, &e.Actor, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return entries, nil
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
