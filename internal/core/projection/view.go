package projection

import "time"

// LivestockView is the derived current-state row for one animal. It is a pure
// fold over the animal's event sequence and never a source of truth: any row
// can be rebuilt at any time by replaying the ledger.
type LivestockView struct {
	LivestockKey string `json:"livestock_key"`
	BatchName    string `json:"batch_name"`
	Pen          string `json:"pen,omitempty"`
	Sex          string `json:"sex,omitempty"`

	CurrentLFID string `json:"current_lf_id,omitempty"`
	CurrentEPC  string `json:"current_epc,omitempty"`

	// CurrentWeightKG is nil until the animal has been weighed.
	CurrentWeightKG *float64 `json:"current_weight_kg,omitempty"`

	Notes string `json:"notes,omitempty"`

	// Retired marks a soft-retired view. Views are never deleted.
	Retired bool `json:"retired,omitempty"`

	InductedAt time.Time `json:"inducted_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
