package sync

import (
	v1 "github.com/herdlinx-lab/herdlinx/internal/api/v1"
)

// Ledger-to-wire field remapping. The edge payload calls the low-frequency
// tag lf_id; the reconciliation protocol calls it lf_tag. Weight stays a
// nullable passthrough so "not measured" survives the hop.

func transformInduction(e *v1.Event) v1.InductionRecord {
	return v1.InductionRecord{
		EventID:      e.EventID,
		LivestockKey: e.LivestockKey,
		BatchName:    e.Payload.BatchName,
		Pen:          e.Payload.Pen,
		PenLocation:  e.Payload.PenLocation,
		Funder:       e.Payload.Funder,
		Lot:          e.Payload.Lot,
		Sex:          e.Payload.Sex,
		LFTag:        e.Payload.LFID,
		EPC:          e.Payload.EPC,
		WeightKG:     e.Payload.WeightKG,
		Notes:        e.Payload.Notes,
		OccurredAt:   e.OccurredAt,
	}
}

func transformPairing(e *v1.Event) v1.PairingRecord {
	return v1.PairingRecord{
		EventID:      e.EventID,
		LivestockKey: e.LivestockKey,
		LFTag:        e.Payload.LFID,
		EPC:          e.Payload.EPC,
		WeightKG:     e.Payload.WeightKG,
		OccurredAt:   e.OccurredAt,
	}
}

func transformCheckin(e *v1.Event) v1.CheckinRecord {
	return v1.CheckinRecord{
		EventID:      e.EventID,
		LivestockKey: e.LivestockKey,
		WeightKG:     e.Payload.WeightKG,
		OccurredAt:   e.OccurredAt,
	}
}

func transformRepair(e *v1.Event) v1.RepairRecord {
	return v1.RepairRecord{
		EventID:      e.EventID,
		LivestockKey: e.LivestockKey,
		OldLFTag:     e.Payload.OldLFID,
		NewLFTag:     e.Payload.NewLFID,
		OldEPC:       e.Payload.OldEPC,
		NewEPC:       e.Payload.NewEPC,
		Reason:       e.Payload.Reason,
		OccurredAt:   e.OccurredAt,
	}
}

// buildRequest assembles the wire envelope for one kind's batch. The data
// array preserves ledger order: the server's per-record results echo it back
// index for index.
func buildRequest(tenant string, kind v1.Kind, events []*v1.Event) interface{} {
	switch kind {
	case v1.KindInduction:
		data := make([]v1.InductionRecord, 0, len(events))
		for _, e := range events {
			data = append(data, transformInduction(e))
		}
		return v1.SyncRequest[v1.InductionRecord]{Tenant: tenant, Data: data}
	case v1.KindPairing:
		data := make([]v1.PairingRecord, 0, len(events))
		for _, e := range events {
			data = append(data, transformPairing(e))
		}
		return v1.SyncRequest[v1.PairingRecord]{Tenant: tenant, Data: data}
	case v1.KindCheckin:
		data := make([]v1.CheckinRecord, 0, len(events))
		for _, e := range events {
			data = append(data, transformCheckin(e))
		}
		return v1.SyncRequest[v1.CheckinRecord]{Tenant: tenant, Data: data}
	default:
		data := make([]v1.RepairRecord, 0, len(events))
		for _, e := range events {
			data = append(data, transformRepair(e))
		}
		return v1.SyncRequest[v1.RepairRecord]{Tenant: tenant, Data: data}
	}
}
