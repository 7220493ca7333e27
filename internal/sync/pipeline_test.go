package sync

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	v1 "github.com/herdlinx-lab/herdlinx/internal/api/v1"
	"github.com/herdlinx-lab/herdlinx/internal/core/herd"
	"github.com/herdlinx-lab/herdlinx/internal/core/storage"
	"github.com/herdlinx-lab/herdlinx/internal/ingestor"
)

// memAggregates is an in-memory AggregateStore with the real idempotency
// guard, so the full edge-to-cloud round trip can run against the real
// ingestor handlers without Postgres.
type memAggregates struct {
	cattle  map[string]*herd.Cattle
	applied map[string]bool
	nextID  int64
}

func newMemAggregates() *memAggregates {
	return &memAggregates{cattle: make(map[string]*herd.Cattle), applied: make(map[string]bool)}
}

func (m *memAggregates) claim(tenant, eventID string) bool {
	k := tenant + "|" + eventID
	if m.applied[k] {
		return false
	}
	m.applied[k] = true
	return true
}

func (m *memAggregates) ApplyInduction(_ context.Context, tenant string, rec *v1.InductionRecord) (v1.RecordStatus, error) {
	if !m.claim(tenant, rec.EventID) {
		return v1.StatusNoop, nil
	}
	k := tenant + "|" + rec.LivestockKey
	if _, ok := m.cattle[k]; ok {
		return v1.StatusUpdated, nil
	}
	m.nextID++
	sex := rec.Sex
	if sex == "" {
		sex = herd.DefaultSex
	}
	m.cattle[k] = &herd.Cattle{
		ID: m.nextID, Tenant: tenant, LivestockKey: rec.LivestockKey,
		Sex: sex, Status: herd.DefaultStatus, LFTag: rec.LFTag, UHFTag: rec.EPC,
		InductedAt: rec.OccurredAt,
	}
	return v1.StatusCreated, nil
}

func (m *memAggregates) ApplyPairing(_ context.Context, tenant string, rec *v1.PairingRecord) (v1.RecordStatus, error) {
	c, ok := m.cattle[tenant+"|"+rec.LivestockKey]
	if !ok {
		return v1.StatusFailed, storage.ErrLivestockNotFound
	}
	if !m.claim(tenant, rec.EventID) {
		return v1.StatusNoop, nil
	}
	c.LFTag, c.UHFTag = rec.LFTag, rec.EPC
	if rec.WeightKG != nil && *rec.WeightKG > 0 {
		c.WeightKG = *rec.WeightKG
		c.WeightHistory = append(c.WeightHistory, herd.WeightEntry{EventID: rec.EventID, WeightKG: *rec.WeightKG, RecordedAt: rec.OccurredAt})
	}
	return v1.StatusUpdated, nil
}

func (m *memAggregates) ApplyCheckin(_ context.Context, tenant string, rec *v1.CheckinRecord) (v1.RecordStatus, error) {
	c, ok := m.cattle[tenant+"|"+rec.LivestockKey]
	if !ok {
		return v1.StatusFailed, storage.ErrLivestockNotFound
	}
	if !m.claim(tenant, rec.EventID) {
		return v1.StatusNoop, nil
	}
	c.WeightKG = *rec.WeightKG
	c.WeightHistory = append(c.WeightHistory, herd.WeightEntry{EventID: rec.EventID, WeightKG: *rec.WeightKG, RecordedAt: rec.OccurredAt})
	return v1.StatusUpdated, nil
}

func (m *memAggregates) ApplyRepair(_ context.Context, tenant string, rec *v1.RepairRecord) (v1.RecordStatus, error) {
	c, ok := m.cattle[tenant+"|"+rec.LivestockKey]
	if !ok {
		return v1.StatusFailed, storage.ErrLivestockNotFound
	}
	if !m.claim(tenant, rec.EventID) {
		return v1.StatusNoop, nil
	}
	c.TagPairHistory = append(c.TagPairHistory, herd.TagPairEntry{EventID: rec.EventID, LFTag: c.LFTag, UHFTag: c.UHFTag, ReplacedAt: rec.OccurredAt, Reason: rec.Reason})
	if rec.NewLFTag != "" {
		c.LFTag = rec.NewLFTag
	}
	if rec.NewEPC != "" {
		c.UHFTag = rec.NewEPC
	}
	return v1.StatusUpdated, nil
}

func (m *memAggregates) GetCattle(_ context.Context, tenant, key string) (*herd.Cattle, error) {
	c, ok := m.cattle[tenant+"|"+key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c, nil
}

func (m *memAggregates) GetBatch(context.Context, string, string) (*herd.Batch, error) {
	return nil, storage.ErrNotFound
}

func (m *memAggregates) GetPen(context.Context, string, string) (*herd.Pen, error) {
	return nil, storage.ErrNotFound
}

func (m *memAggregates) TenantForKey(_ context.Context, key string) (string, error) {
	if key == "key-1" {
		return "t1", nil
	}
	return "", storage.ErrNotFound
}

func base(minutes int) time.Time {
	return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC).Add(time.Duration(minutes) * time.Minute)
}

// TestPipeline_EdgeToCloud drives the real sync client against the real
// ingestor handlers: a full animal lifecycle recorded on the edge ends up as
// one reconciled aggregate, and re-delivery changes nothing.
func TestPipeline_EdgeToCloud(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ledger := &fakeLedger{events: []*v1.Event{
		{
			EventID: "evt-i", LivestockKey: "LS-1", Kind: v1.KindInduction,
			OccurredAt: base(0), RecordedSeq: 1,
			Payload: v1.Payload{BatchName: "B1", Pen: "P9", Sex: "F"},
		},
		{
			EventID: "evt-p", LivestockKey: "LS-1", Kind: v1.KindPairing,
			OccurredAt: base(10), RecordedSeq: 2,
			Payload: v1.Payload{LFID: "LF1", EPC: "EPC1", WeightKG: ptrFloat(250)},
		},
		{
			EventID: "evt-c", LivestockKey: "LS-1", Kind: v1.KindCheckin,
			OccurredAt: base(20), RecordedSeq: 3,
			Payload: v1.Payload{WeightKG: ptrFloat(275)},
		},
		{
			EventID: "evt-r", LivestockKey: "LS-1", Kind: v1.KindRepair,
			OccurredAt: base(30), RecordedSeq: 4,
			Payload: v1.Payload{OldLFID: "LF1", NewLFID: "LF2", Reason: "tag damaged"},
		},
	}}
	cursors := newFakeCursors()

	store := newMemAggregates()
	engine := gin.New()
	ingestor.NewService(store, store, 1).RegisterRoutes(engine)
	server := httptest.NewServer(engine)
	defer server.Close()

	client := NewClient(ledger, cursors, server.URL, "key-1", "t1", 100, 5*time.Second)

	synced, err := client.SyncCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, synced)

	c, err := store.GetCattle(context.Background(), "t1", "LS-1")
	require.NoError(t, err)
	require.Equal(t, "LF2", c.LFTag)
	require.Equal(t, "EPC1", c.UHFTag)
	require.Equal(t, 275.0, c.WeightKG)
	require.Len(t, c.WeightHistory, 2)
	require.Len(t, c.TagPairHistory, 1)
	require.Equal(t, "LF1", c.TagPairHistory[0].LFTag)

	require.Equal(t, int64(1), cursors.acked[v1.KindInduction])
	require.Equal(t, int64(4), cursors.acked[v1.KindRepair])

	// Simulate a lost acknowledgment: rewinding the cursors re-delivers the
	// whole backlog, which the guard table turns into noops.
	cursors.acked = map[v1.Kind]int64{}
	synced, err = client.SyncCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, synced)

	c, err = store.GetCattle(context.Background(), "t1", "LS-1")
	require.NoError(t, err)
	require.Len(t, c.WeightHistory, 2)
	require.Len(t, c.TagPairHistory, 1)
}
