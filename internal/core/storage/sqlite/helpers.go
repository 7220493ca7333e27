package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	v1 "github.com/herdlinx-lab/herdlinx/internal/api/v1"
	"github.com/herdlinx-lab/herdlinx/internal/core/projection"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// marshalPayload serializes the kind-specific payload for the events table.
// The envelope columns stay relational; only the payload is a JSON blob.
func marshalPayload(event *v1.Event) ([]byte, error) {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return payloadJSON, nil
}

// scanEventRow scans a ledger row into an Event. Compatible with both
// sql.Row and sql.Rows.
func scanEventRow(row scanner) (*v1.Event, error) {
	var evt v1.Event
	var payloadJSON []byte

	err := row.Scan(
		&evt.EventID,
		&evt.LivestockKey,
		&evt.Kind,
		&evt.OccurredAt,
		&evt.RecordedAt,
		&payloadJSON,
		&evt.RecordedSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	if err := json.Unmarshal(payloadJSON, &evt.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return &evt, nil
}

// scanViewRow scans a livestock_views row, mapping NULL weight to nil.
func scanViewRow(row scanner) (*projection.LivestockView, error) {
	var view projection.LivestockView
	var weight sql.NullFloat64

	err := row.Scan(
		&view.LivestockKey,
		&view.BatchName,
		&view.Pen,
		&view.Sex,
		&view.CurrentLFID,
		&view.CurrentEPC,
		&weight,
		&view.Notes,
		&view.Retired,
		&view.InductedAt,
		&view.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan view row: %w", err)
	}

	if weight.Valid {
		w := weight.Float64
		view.CurrentWeightKG = &w
	}

	return &view, nil
}

// viewWeightArg maps a nil weight to SQL NULL for the upsert.
func viewWeightArg(view *projection.LivestockView) interface{} {
	if view.CurrentWeightKG == nil {
		return nil
	}
	return *view.CurrentWeightKG
}
