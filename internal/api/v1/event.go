package v1

import (
	"fmt"
	"time"
)

// Kind classifies a ledger event. The four kinds cover the feedlot lifecycle:
// an animal is inducted once, paired with tags, weighed at check-ins, and has
// tags repaired when they fail.
type Kind string

const (
	KindInduction Kind = "induction"
	KindPairing   Kind = "pairing"
	KindCheckin   Kind = "checkin"
	KindRepair    Kind = "repair"
)

// Kinds lists every event kind in sync priority order. Induction must reach
// the aggregate store before the kinds that assume the cattle record exists.
var Kinds = []Kind{KindInduction, KindPairing, KindCheckin, KindRepair}

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	switch k {
	case KindInduction, KindPairing, KindCheckin, KindRepair:
		return true
	}
	return false
}

// Event is the atomic, immutable unit of the ledger. Corrections are always
// expressed as new events (a repair, never an edit of a pairing).
type Event struct {
	// EventID is the unique identifier assigned by the producer, not the
	// ledger. It is the idempotency key for the whole sync pipeline.
	EventID string `json:"event_id"`

	// LivestockKey identifies the animal this event concerns. Assigned at
	// induction and stable for the animal's lifetime in this ledger.
	LivestockKey string `json:"livestock_key"`

	Kind Kind `json:"kind"`

	// OccurredAt is the producer-side clock (sensor/operator time).
	OccurredAt time.Time `json:"occurred_at"`

	// RecordedAt is the ledger insertion time, set by the store.
	RecordedAt time.Time `json:"recorded_at"`

	// RecordedSeq is a monotonic sequence number assigned on insertion.
	// It is the sync cursor's unit of progress and is not part of the
	// public API shape.
	RecordedSeq int64 `json:"-"`

	Payload Payload `json:"payload"`
}

// Payload carries the kind-specific fields of an event. A single struct with
// optional fields keeps the storage layout flat; Validate enforces which
// fields each kind requires.
type Payload struct {
	// Induction fields.
	BatchName   string `json:"batch_name,omitempty"`
	Pen         string `json:"pen,omitempty"`
	PenLocation string `json:"pen_location,omitempty"`
	Funder      string `json:"funder,omitempty"`
	Lot         string `json:"lot,omitempty"`
	Sex         string `json:"sex,omitempty"`

	// Tag fields (pairing, and induction when tags are known up front).
	LFID string `json:"lf_id,omitempty"`
	EPC  string `json:"epc,omitempty"`

	// WeightKG is nullable on purpose: a missing weight and a measured zero
	// weight must stay distinguishable.
	WeightKG *float64 `json:"weight_kg,omitempty"`

	// Repair fields.
	OldLFID string `json:"old_lf_id,omitempty"`
	NewLFID string `json:"new_lf_id,omitempty"`
	OldEPC  string `json:"old_epc,omitempty"`
	NewEPC  string `json:"new_epc,omitempty"`
	Reason  string `json:"reason,omitempty"`

	Notes string `json:"notes,omitempty"`
}

// Validate ensures the event carries its required envelope attributes and the
// payload fields its kind demands.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}

	if e.LivestockKey == "" {
		return fmt.Errorf("livestock_key is required")
	}

	if !e.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}

	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}

	switch e.Kind {
	case KindInduction:
		if e.Payload.BatchName == "" {
			return fmt.Errorf("batch_name is required for induction events")
		}
	case KindPairing:
		if e.Payload.LFID == "" && e.Payload.EPC == "" {
			return fmt.Errorf("at least one of lf_id or epc is required for pairing events")
		}
	case KindCheckin:
		if e.Payload.WeightKG == nil {
			return fmt.Errorf("weight_kg is required for checkin events")
		}
		if *e.Payload.WeightKG <= 0 {
			return fmt.Errorf("weight_kg must be greater than 0")
		}
	case KindRepair:
		if e.Payload.NewLFID == "" && e.Payload.NewEPC == "" {
			return fmt.Errorf("at least one of new_lf_id or new_epc is required for repair events")
		}
	}

	return nil
}
