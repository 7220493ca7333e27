package projection

import (
	"sort"

	v1 "github.com/herdlinx-lab/herdlinx/internal/api/v1"
)

// Fold applies one event to the current view state and returns the new state.
// It is a pure function of (view, event): no clocks, no I/O, no mutation of
// its inputs. Replaying a sorted event sequence from nil must always land on
// the same view as folding incrementally.
//
// view is nil when no event for the livestock key has been folded yet; only
// an induction event creates state from nil.
func Fold(view *LivestockView, e *v1.Event) *LivestockView {
	if e == nil {
		return view
	}

	switch e.Kind {
	case v1.KindInduction:
		if view != nil {
			// The ledger rejects second inductions; folding one anyway must
			// not corrupt existing state.
			return view
		}
		next := &LivestockView{
			LivestockKey: e.LivestockKey,
			BatchName:    e.Payload.BatchName,
			Pen:          e.Payload.Pen,
			Sex:          e.Payload.Sex,
			CurrentLFID:  e.Payload.LFID,
			CurrentEPC:   e.Payload.EPC,
			Notes:        e.Payload.Notes,
			InductedAt:   e.OccurredAt,
			UpdatedAt:    e.OccurredAt,
		}
		if w := e.Payload.WeightKG; w != nil && *w > 0 {
			next.CurrentWeightKG = ptr(*w)
		}
		return next

	case v1.KindPairing:
		if view == nil {
			return nil
		}
		// An absent tag keeps the stored value, same as the aggregate side.
		next := *view
		if e.Payload.LFID != "" {
			next.CurrentLFID = e.Payload.LFID
		}
		if e.Payload.EPC != "" {
			next.CurrentEPC = e.Payload.EPC
		}
		if w := e.Payload.WeightKG; w != nil && *w > 0 {
			next.CurrentWeightKG = ptr(*w)
		}
		next.UpdatedAt = e.OccurredAt
		return &next

	case v1.KindCheckin:
		if view == nil {
			return nil
		}
		// Weight presence and positivity are enforced at ingestion; the fold
		// overwrites unconditionally.
		next := *view
		if w := e.Payload.WeightKG; w != nil {
			next.CurrentWeightKG = ptr(*w)
		}
		next.UpdatedAt = e.OccurredAt
		return &next

	case v1.KindRepair:
		if view == nil {
			return nil
		}
		next := *view
		if e.Payload.NewLFID != "" {
			next.CurrentLFID = e.Payload.NewLFID
		}
		if e.Payload.NewEPC != "" {
			next.CurrentEPC = e.Payload.NewEPC
		}
		if e.Payload.Reason != "" {
			if next.Notes != "" {
				next.Notes += "\n"
			}
			next.Notes += "repair: " + e.Payload.Reason
		}
		next.UpdatedAt = e.OccurredAt
		return &next
	}

	return view
}

// Replay rebuilds a view from scratch by folding the full event sequence in
// (occurred_at, recorded_seq) order. Returns nil when the sequence contains
// no induction.
func Replay(events []*v1.Event) *LivestockView {
	ordered := make([]*v1.Event, len(events))
	copy(ordered, events)
	SortEvents(ordered)

	var view *LivestockView
	for _, e := range ordered {
		view = Fold(view, e)
	}
	return view
}

// SortEvents orders events by occurred_at, tie-broken by recorded_seq. This
// is the canonical fold order for a single livestock key.
func SortEvents(events []*v1.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].RecordedSeq < events[j].RecordedSeq
		}
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
}

func ptr(f float64) *float64 { return &f }
