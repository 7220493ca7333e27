package v1

import "time"

// Wire shapes for the edge-to-cloud reconciliation protocol. The edge ledger
// and the aggregate store do not share a schema: the transform layer renames
// fields (local lf_id becomes wire lf_tag) and the cloud side resolves parent
// entities by name, never by foreign key.

// SyncRequest is the envelope for one batch of records of a single kind.
// Tenant must match the tenant bound to the presented API key.
type SyncRequest[R any] struct {
	Tenant string `json:"tenant"`
	Data   []R    `json:"data"`
}

// InductionRecord creates (or refreshes) the cattle aggregate and its parent
// batch/pen, resolved by tenant-scoped name.
type InductionRecord struct {
	EventID      string    `json:"event_id"`
	LivestockKey string    `json:"livestock_key"`
	BatchName    string    `json:"batch_name"`
	Pen          string    `json:"pen,omitempty"`
	PenLocation  string    `json:"pen_location,omitempty"`
	Funder       string    `json:"funder,omitempty"`
	Lot          string    `json:"lot,omitempty"`
	Sex          string    `json:"sex,omitempty"`
	LFTag        string    `json:"lf_tag,omitempty"`
	EPC          string    `json:"epc,omitempty"`
	WeightKG     *float64  `json:"weight_kg,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	OccurredAt   time.Time `json:"timestamp"`
}

// PairingRecord overwrites the cattle's current tag pair and, when a positive
// weight is present, appends to the weight history.
type PairingRecord struct {
	EventID      string    `json:"event_id"`
	LivestockKey string    `json:"livestock_key"`
	LFTag        string    `json:"lf_tag,omitempty"`
	EPC          string    `json:"epc,omitempty"`
	WeightKG     *float64  `json:"weight_kg,omitempty"`
	OccurredAt   time.Time `json:"timestamp"`
}

// CheckinRecord appends a weight measurement. Weight is mandatory and must be
// positive; zero means "not measured" on the producer side and is rejected.
type CheckinRecord struct {
	EventID      string    `json:"event_id"`
	LivestockKey string    `json:"livestock_key"`
	WeightKG     *float64  `json:"weight_kg"`
	OccurredAt   time.Time `json:"timestamp"`
}

// RepairRecord replaces one or both tags, archiving the prior pair.
type RepairRecord struct {
	EventID      string    `json:"event_id"`
	LivestockKey string    `json:"livestock_key"`
	OldLFTag     string    `json:"old_lf_tag,omitempty"`
	NewLFTag     string    `json:"new_lf_tag,omitempty"`
	OldEPC       string    `json:"old_epc,omitempty"`
	NewEPC       string    `json:"new_epc,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"timestamp"`
}

// RecordStatus is the per-record outcome reported by the ingestor, in
// submission order. The client uses it to advance its cursor precisely.
type RecordStatus string

const (
	// StatusCreated / StatusUpdated: the record was applied.
	StatusCreated RecordStatus = "created"
	StatusUpdated RecordStatus = "updated"

	// StatusNoop: the record's event_id was already applied earlier.
	// Processed, but not double-counted. Not an error.
	StatusNoop RecordStatus = "noop"

	// StatusSkipped: terminal for this record (validation or referential
	// failure). Retrying the same record cannot succeed, so the cursor may
	// move past it.
	StatusSkipped RecordStatus = "skipped"

	// StatusFailed: a server-side fault applying the record. Retryable; the
	// cursor must not move past it.
	StatusFailed RecordStatus = "failed"
)

// Terminal reports whether the sync cursor may advance past a record with
// this status.
func (s RecordStatus) Terminal() bool {
	return s == StatusCreated || s == StatusUpdated || s == StatusNoop || s == StatusSkipped
}

// RecordResult echoes one submitted record's event_id and outcome.
type RecordResult struct {
	EventID string       `json:"event_id"`
	Status  RecordStatus `json:"status"`
	Error   string       `json:"error,omitempty"`
}

// SyncResponse reports per-batch counts plus per-record outcomes. Errors is
// aligned with the submitted data array ("" for accepted records) so a client
// without Results support can still compute a contiguous accepted prefix.
type SyncResponse struct {
	Success          bool           `json:"success"`
	Message          string         `json:"message,omitempty"`
	RecordsProcessed int            `json:"records_processed"`
	RecordsCreated   int            `json:"records_created"`
	RecordsUpdated   int            `json:"records_updated"`
	RecordsSkipped   int            `json:"records_skipped"`
	Errors           []string       `json:"errors"`
	Results          []RecordResult `json:"results,omitempty"`
}
