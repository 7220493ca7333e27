package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/herdlinx-lab/herdlinx/internal/api/v1"
	"github.com/herdlinx-lab/herdlinx/internal/core/herd"
	"github.com/herdlinx-lab/herdlinx/internal/core/projection"
)

// ErrDuplicateEvent is returned when an event with the same event_id already
// exists in the ledger.
var ErrDuplicateEvent = errors.New("event already exists")

// ErrDuplicateInduction is returned when a second induction event is appended
// for a livestock key. This is a producer bug, never a transient condition.
var ErrDuplicateInduction = errors.New("livestock already inducted")

// ErrDuplicatePayload is returned when a raw payload's content hash has been
// seen before (transport-level dedup, distinct from event_id idempotency).
var ErrDuplicatePayload = errors.New("payload already received")

// ErrNotFound is the generic missing-row sentinel.
var ErrNotFound = errors.New("not found")

// ErrLivestockNotFound distinguishes a referential failure (pairing/checkin/
// repair for an unsynced livestock key) from a plain missing row. It usually
// means induction has not reached the aggregate store yet.
var ErrLivestockNotFound = errors.New("livestock not found")

// LedgerStore is the edge-side append-only event ledger. Append folds the
// derived view inside the same transaction, so a reader never observes an
// event without its view update.
type LedgerStore interface {
	// AppendEvent assigns RecordedAt/RecordedSeq and persists the event.
	// Returns ErrDuplicateEvent on an event_id replay and
	// ErrDuplicateInduction on a second induction for the livestock key,
	// leaving the ledger unchanged in both cases.
	AppendEvent(ctx context.Context, event *v1.Event) error

	// EventsForLivestock returns every event for one animal ordered by
	// (occurred_at, recorded_seq). Finite and replayable.
	EventsForLivestock(ctx context.Context, livestockKey string) ([]*v1.Event, error)

	// EventsSince returns events of one kind with recorded_seq strictly
	// greater than cursor, ascending, at most limit rows. Sync-path only.
	EventsSince(ctx context.Context, kind v1.Kind, cursor int64, limit int) ([]*v1.Event, error)

	// View returns the derived view for one animal, or ErrNotFound.
	View(ctx context.Context, livestockKey string) (*projection.LivestockView, error)
}

// CursorStore persists the per-kind sync low-water-marks. Watermarks are
// monotonically non-decreasing and advance only on confirmed remote
// acknowledgment.
type CursorStore interface {
	// ResumePoint returns the last acknowledged recorded_seq for a kind,
	// or 0 if the kind has never been synced.
	ResumePoint(ctx context.Context, kind v1.Kind) (int64, error)

	// MarkAcknowledged advances the watermark. A watermark not greater than
	// the current value is a silent no-op.
	MarkAcknowledged(ctx context.Context, kind v1.Kind, watermark int64) error
}

// PayloadBuffer is the transport-level dedup buffer for raw radio payloads.
type PayloadBuffer interface {
	// RecordPayload stores a raw payload under its content hash. Returns
	// ErrDuplicatePayload (with the buffer row id) when the same bytes were
	// already received within the retention window.
	RecordPayload(ctx context.Context, raw, hash string) (int64, error)

	MarkPayloadProcessed(ctx context.Context, id int64, batchName string) error
	MarkPayloadError(ctx context.Context, id int64, reason string) error

	// BufferStats returns counts by status for the edge status endpoint.
	BufferStats(ctx context.Context) (map[string]int, error)
}

// EdgeBatchStore keeps the gateway's local batch rows, auto-created from
// payloads and induction events.
type EdgeBatchStore interface {
	// ResolveOrCreateBatch returns whether the named batch was created.
	ResolveOrCreateBatch(ctx context.Context, name, sourceType, notes string) (created bool, err error)
}

// AggregateStore is the cloud-side multi-tenant aggregate store. Each Apply
// method runs in its own transaction: one bad record never blocks its batch
// siblings. Parent entities (batch, pen) are resolved or created by
// tenant-scoped natural key inside the same transaction as the child upsert.
type AggregateStore interface {
	// ApplyInduction upserts the cattle aggregate by (tenant, livestock_key),
	// creating missing batch/pen parents on the fly. Returns StatusCreated or
	// StatusUpdated.
	ApplyInduction(ctx context.Context, tenant string, rec *v1.InductionRecord) (v1.RecordStatus, error)

	// ApplyPairing overwrites current tags and optionally appends a weight
	// entry. Returns ErrLivestockNotFound for an unknown key and StatusNoop
	// when the event_id was already applied.
	ApplyPairing(ctx context.Context, tenant string, rec *v1.PairingRecord) (v1.RecordStatus, error)

	// ApplyCheckin appends a weight entry and overwrites the current weight,
	// deduplicated by event_id.
	ApplyCheckin(ctx context.Context, tenant string, rec *v1.CheckinRecord) (v1.RecordStatus, error)

	// ApplyRepair overwrites the supplied tag(s), archives the prior pair and
	// appends the reason to notes, deduplicated by event_id.
	ApplyRepair(ctx context.Context, tenant string, rec *v1.RepairRecord) (v1.RecordStatus, error)

	// GetCattle loads an aggregate with its history sub-lists, or ErrNotFound.
	GetCattle(ctx context.Context, tenant, livestockKey string) (*herd.Cattle, error)

	// GetBatch / GetPen resolve parents by natural key, or ErrNotFound.
	GetBatch(ctx context.Context, tenant, name string) (*herd.Batch, error)
	GetPen(ctx context.Context, tenant, number string) (*herd.Pen, error)
}

// APIKeyStore resolves a presented shared-secret credential to the tenant it
// is bound to. Returns ErrNotFound for unknown or inactive keys.
type APIKeyStore interface {
	TenantForKey(ctx context.Context, key string) (string, error)
}

// SyncStats is the edge gateway's running sync counters, surfaced by the
// status endpoint.
type SyncStats struct {
	TotalCycles      int64      `json:"total_syncs"`
	SuccessfulCycles int64      `json:"successful_syncs"`
	FailedCycles     int64      `json:"failed_syncs"`
	RecordsSynced    int64      `json:"records_synced"`
	LastSyncTime     *time.Time `json:"last_sync_time,omitempty"`
}
