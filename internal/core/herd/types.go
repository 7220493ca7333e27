// Package herd holds the cloud-side aggregate model: the mutable,
// denormalized records the event ledger is reconciled into. Current fields
// are overwritten on every upsert; the history sub-lists only ever grow.
package herd

import "time"

// Defaults applied when an induction record creates a cattle aggregate with
// fields absent.
const (
	DefaultSex          = "Unknown"
	DefaultStatus       = "Healthy"
	DefaultPenCapacity  = 100
	DefaultWeightKG     = 0.0
	StatusExported      = "Export"
	RecordedByIngestion = "api"
)

// Batch groups cattle under a human-assigned, tenant-unique name. Created
// implicitly the first time an induction references an unseen name.
type Batch struct {
	ID        int64     `json:"id"`
	Tenant    string    `json:"tenant"`
	Name      string    `json:"name"`
	Funder    string    `json:"funder,omitempty"`
	Lot       string    `json:"lot,omitempty"`
	PenID     *int64    `json:"pen_id,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pen is a location entity keyed by a human-assigned, tenant-unique number.
// Capacity defaults to DefaultPenCapacity on implicit creation and stays
// editable afterwards without re-deriving from events.
type Pen struct {
	ID          int64     `json:"id"`
	Tenant      string    `json:"tenant"`
	Number      string    `json:"number"`
	Capacity    int       `json:"capacity"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WeightEntry is one append-only weight-history row. EventID is the
// idempotency key: re-delivering the same checkin must not append twice.
type WeightEntry struct {
	EventID    string    `json:"event_id"`
	WeightKG   float64   `json:"weight_kg"`
	RecordedAt time.Time `json:"recorded_at"`
	RecordedBy string    `json:"recorded_by"`
}

// TagPairEntry archives a superseded tag pair, keyed by the repair (or
// pairing) event that replaced it.
type TagPairEntry struct {
	EventID    string    `json:"event_id"`
	LFTag      string    `json:"lf_tag,omitempty"`
	UHFTag     string    `json:"uhf_tag,omitempty"`
	ReplacedAt time.Time `json:"replaced_at"`
	Reason     string    `json:"reason,omitempty"`
}

// AuditEntry is one append-only audit-log row.
type AuditEntry struct {
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// Cattle is the aggregate record, unique per (tenant, livestock_key). Batch
// and pen links are nullable: an aggregate may exist without either.
type Cattle struct {
	ID           int64   `json:"id"`
	Tenant       string  `json:"tenant"`
	LivestockKey string  `json:"livestock_key"`
	Sex          string  `json:"sex"`
	WeightKG     float64 `json:"weight_kg"`
	Status       string  `json:"status"`
	LFTag        string  `json:"lf_tag,omitempty"`
	UHFTag       string  `json:"uhf_tag,omitempty"`
	BatchID      *int64  `json:"batch_id,omitempty"`
	PenID        *int64  `json:"pen_id,omitempty"`
	Notes        string  `json:"notes,omitempty"`

	WeightHistory  []WeightEntry  `json:"weight_history,omitempty"`
	TagPairHistory []TagPairEntry `json:"tag_pair_history,omitempty"`
	AuditLog       []AuditEntry   `json:"audit_log,omitempty"`

	InductedAt time.Time `json:"inducted_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
