package ingestor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	v1 "github.com/herdlinx-lab/herdlinx/internal/api/v1"
	"github.com/herdlinx-lab/herdlinx/internal/core/herd"
	"github.com/herdlinx-lab/herdlinx/internal/core/storage"
)

// fakeStore is an in-memory AggregateStore with the real idempotency and
// referential semantics.
type fakeStore struct {
	cattle  map[string]*herd.Cattle // tenant|key
	applied map[string]bool         // tenant|event_id
	failOn  map[string]error        // event_id -> injected fault
	nextID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cattle:  make(map[string]*herd.Cattle),
		applied: make(map[string]bool),
		failOn:  make(map[string]error),
	}
}

func (f *fakeStore) key(tenant, livestockKey string) string { return tenant + "|" + livestockKey }

func (f *fakeStore) claim(tenant, eventID string) bool {
	k := tenant + "|" + eventID
	if f.applied[k] {
		return false
	}
	f.applied[k] = true
	return true
}

func (f *fakeStore) ApplyInduction(_ context.Context, tenant string, rec *v1.InductionRecord) (v1.RecordStatus, error) {
	if err := f.failOn[rec.EventID]; err != nil {
		return v1.StatusFailed, err
	}
	if !f.claim(tenant, rec.EventID) {
		return v1.StatusNoop, nil
	}
	k := f.key(tenant, rec.LivestockKey)
	if c, ok := f.cattle[k]; ok {
		if rec.Sex != "" {
			c.Sex = rec.Sex
		}
		return v1.StatusUpdated, nil
	}
	f.nextID++
	sex := rec.Sex
	if sex == "" {
		sex = herd.DefaultSex
	}
	c := &herd.Cattle{
		ID: f.nextID, Tenant: tenant, LivestockKey: rec.LivestockKey,
		Sex: sex, Status: herd.DefaultStatus,
		LFTag: rec.LFTag, UHFTag: rec.EPC,
		InductedAt: rec.OccurredAt,
	}
	if rec.WeightKG != nil && *rec.WeightKG > 0 {
		c.WeightKG = *rec.WeightKG
		c.WeightHistory = append(c.WeightHistory, herd.WeightEntry{
			EventID: rec.EventID, WeightKG: *rec.WeightKG, RecordedAt: rec.OccurredAt, RecordedBy: "api",
		})
	}
	f.cattle[k] = c
	return v1.StatusCreated, nil
}

func (f *fakeStore) ApplyPairing(_ context.Context, tenant string, rec *v1.PairingRecord) (v1.RecordStatus, error) {
	if err := f.failOn[rec.EventID]; err != nil {
		return v1.StatusFailed, err
	}
	c, ok := f.cattle[f.key(tenant, rec.LivestockKey)]
	if !ok {
		return v1.StatusFailed, storage.ErrLivestockNotFound
	}
	if !f.claim(tenant, rec.EventID) {
		return v1.StatusNoop, nil
	}
	if rec.LFTag != "" {
		c.LFTag = rec.LFTag
	}
	if rec.EPC != "" {
		c.UHFTag = rec.EPC
	}
	if rec.WeightKG != nil && *rec.WeightKG > 0 {
		c.WeightKG = *rec.WeightKG
		c.WeightHistory = append(c.WeightHistory, herd.WeightEntry{
			EventID: rec.EventID, WeightKG: *rec.WeightKG, RecordedAt: rec.OccurredAt, RecordedBy: "api",
		})
	}
	return v1.StatusUpdated, nil
}

func (f *fakeStore) ApplyCheckin(_ context.Context, tenant string, rec *v1.CheckinRecord) (v1.RecordStatus, error) {
	if err := f.failOn[rec.EventID]; err != nil {
		return v1.StatusFailed, err
	}
	c, ok := f.cattle[f.key(tenant, rec.LivestockKey)]
	if !ok {
		return v1.StatusFailed, storage.ErrLivestockNotFound
	}
	if !f.claim(tenant, rec.EventID) {
		return v1.StatusNoop, nil
	}
	c.WeightKG = *rec.WeightKG
	c.WeightHistory = append(c.WeightHistory, herd.WeightEntry{
		EventID: rec.EventID, WeightKG: *rec.WeightKG, RecordedAt: rec.OccurredAt, RecordedBy: "api",
	})
	return v1.StatusUpdated, nil
}

func (f *fakeStore) ApplyRepair(_ context.Context, tenant string, rec *v1.RepairRecord) (v1.RecordStatus, error) {
	if err := f.failOn[rec.EventID]; err != nil {
		return v1.StatusFailed, err
	}
	c, ok := f.cattle[f.key(tenant, rec.LivestockKey)]
	if !ok {
		return v1.StatusFailed, storage.ErrLivestockNotFound
	}
	if !f.claim(tenant, rec.EventID) {
		return v1.StatusNoop, nil
	}
	c.TagPairHistory = append(c.TagPairHistory, herd.TagPairEntry{
		EventID: rec.EventID, LFTag: c.LFTag, UHFTag: c.UHFTag, ReplacedAt: rec.OccurredAt, Reason: rec.Reason,
	})
	if rec.NewLFTag != "" {
		c.LFTag = rec.NewLFTag
	}
	if rec.NewEPC != "" {
		c.UHFTag = rec.NewEPC
	}
	return v1.StatusUpdated, nil
}

func (f *fakeStore) GetCattle(_ context.Context, tenant, livestockKey string) (*herd.Cattle, error) {
	c, ok := f.cattle[f.key(tenant, livestockKey)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) GetBatch(context.Context, string, string) (*herd.Batch, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetPen(context.Context, string, string) (*herd.Pen, error) {
	return nil, storage.ErrNotFound
}

type fakeKeys struct {
	byKey map[string]string
}

func (f *fakeKeys) TenantForKey(_ context.Context, key string) (string, error) {
	tenant, ok := f.byKey[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return tenant, nil
}

func newTestIngestor() (*fakeStore, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	store := newFakeStore()
	keys := &fakeKeys{byKey: map[string]string{"key-1": "t1", "key-2": "t2"}}
	svc := NewService(store, keys, 1)

	r := gin.New()
	svc.RegisterRoutes(r)
	return store, r
}

func post(t *testing.T, r *gin.Engine, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeSyncResponse(t *testing.T, w *httptest.ResponseRecorder) v1.SyncResponse {
	t.Helper()
	var resp v1.SyncResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func inductionReq(tenant string, recs ...v1.InductionRecord) v1.SyncRequest[v1.InductionRecord] {
	return v1.SyncRequest[v1.InductionRecord]{Tenant: tenant, Data: recs}
}

var testTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestAuth(t *testing.T) {
	_, r := newTestIngestor()

	t.Run("missing key is 401", func(t *testing.T) {
		w := post(t, r, "/v1/feedlot/induction-events", "", inductionReq("t1"))
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown key is 401", func(t *testing.T) {
		w := post(t, r, "/v1/feedlot/induction-events", "key-bogus", inductionReq("t1"))
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("tenant mismatch is 403", func(t *testing.T) {
		w := post(t, r, "/v1/feedlot/induction-events", "key-2", inductionReq("t1",
			v1.InductionRecord{EventID: "evt-1", LivestockKey: "LS-1", BatchName: "B1", OccurredAt: testTime}))
		require.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestInductionHandler(t *testing.T) {
	t.Run("partial batch isolation", func(t *testing.T) {
		store, r := newTestIngestor()
		store.failOn["evt-bad"] = errors.New("db timeout")

		w := post(t, r, "/v1/feedlot/induction-events", "key-1", inductionReq("t1",
			v1.InductionRecord{EventID: "evt-1", LivestockKey: "LS-1", BatchName: "B1", OccurredAt: testTime},
			v1.InductionRecord{EventID: "evt-2", LivestockKey: "LS-2", OccurredAt: testTime}, // batch_name missing
			v1.InductionRecord{EventID: "evt-bad", LivestockKey: "LS-3", BatchName: "B1", OccurredAt: testTime},
			v1.InductionRecord{EventID: "evt-4", LivestockKey: "LS-4", BatchName: "B1", OccurredAt: testTime},
		))
		require.Equal(t, http.StatusOK, w.Code)

		resp := decodeSyncResponse(t, w)
		require.False(t, resp.Success)
		require.Equal(t, 4, resp.RecordsProcessed)
		require.Equal(t, 2, resp.RecordsCreated)
		require.Equal(t, 1, resp.RecordsSkipped)

		require.Len(t, resp.Errors, 4)
		require.Empty(t, resp.Errors[0])
		require.NotEmpty(t, resp.Errors[1])
		require.NotEmpty(t, resp.Errors[2])
		require.Empty(t, resp.Errors[3])

		require.Equal(t, v1.StatusCreated, resp.Results[0].Status)
		require.Equal(t, v1.StatusSkipped, resp.Results[1].Status)
		require.Equal(t, v1.StatusFailed, resp.Results[2].Status)
		require.Equal(t, v1.StatusCreated, resp.Results[3].Status)

		// The failed sibling did not block the others.
		require.NotNil(t, store.cattle["t1|LS-1"])
		require.NotNil(t, store.cattle["t1|LS-4"])
	})

	t.Run("replayed record is a noop", func(t *testing.T) {
		_, r := newTestIngestor()
		rec := v1.InductionRecord{EventID: "evt-1", LivestockKey: "LS-1", BatchName: "B1", OccurredAt: testTime}

		first := decodeSyncResponse(t, post(t, r, "/v1/feedlot/induction-events", "key-1", inductionReq("t1", rec)))
		require.Equal(t, 1, first.RecordsCreated)

		second := decodeSyncResponse(t, post(t, r, "/v1/feedlot/induction-events", "key-1", inductionReq("t1", rec)))
		require.True(t, second.Success)
		require.Equal(t, 0, second.RecordsCreated)
		require.Equal(t, v1.StatusNoop, second.Results[0].Status)
	})

	t.Run("sex defaults on creation", func(t *testing.T) {
		store, r := newTestIngestor()
		post(t, r, "/v1/feedlot/induction-events", "key-1", inductionReq("t1",
			v1.InductionRecord{EventID: "evt-1", LivestockKey: "LS-1", BatchName: "B1", OccurredAt: testTime}))
		require.Equal(t, "Unknown", store.cattle["t1|LS-1"].Sex)
	})
}

func TestCheckinHandler(t *testing.T) {
	store, r := newTestIngestor()
	post(t, r, "/v1/feedlot/induction-events", "key-1", inductionReq("t1",
		v1.InductionRecord{EventID: "evt-i", LivestockKey: "LS-1", BatchName: "B1", OccurredAt: testTime}))

	weight := 275.0
	zero := 0.0

	w := post(t, r, "/v1/feedlot/checkin-events", "key-1", v1.SyncRequest[v1.CheckinRecord]{
		Tenant: "t1",
		Data: []v1.CheckinRecord{
			{EventID: "evt-1", LivestockKey: "LS-1", WeightKG: &weight, OccurredAt: testTime},
			{EventID: "evt-2", LivestockKey: "LS-1", WeightKG: &zero, OccurredAt: testTime},
			{EventID: "evt-3", LivestockKey: "LS-ghost", WeightKG: &weight, OccurredAt: testTime},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeSyncResponse(t, w)
	require.True(t, resp.Success) // skips are terminal, not failures
	require.Equal(t, 1, resp.RecordsUpdated)
	require.Equal(t, 2, resp.RecordsSkipped)
	require.Equal(t, v1.StatusUpdated, resp.Results[0].Status)
	require.Equal(t, v1.StatusSkipped, resp.Results[1].Status)
	require.Equal(t, v1.StatusSkipped, resp.Results[2].Status)
	require.Equal(t, "livestock not found", resp.Results[2].Error)

	require.Equal(t, 275.0, store.cattle["t1|LS-1"].WeightKG)
	require.Len(t, store.cattle["t1|LS-1"].WeightHistory, 1)
}

func TestRepairHandler(t *testing.T) {
	store, r := newTestIngestor()
	post(t, r, "/v1/feedlot/induction-events", "key-1", inductionReq("t1",
		v1.InductionRecord{EventID: "evt-i", LivestockKey: "LS-1", BatchName: "B1", LFTag: "LF1", EPC: "EPC1", OccurredAt: testTime}))

	w := post(t, r, "/v1/feedlot/repair-events", "key-1", v1.SyncRequest[v1.RepairRecord]{
		Tenant: "t1",
		Data: []v1.RepairRecord{
			{EventID: "evt-r", LivestockKey: "LS-1", OldLFTag: "LF1", NewLFTag: "LF2", Reason: "tag damaged", OccurredAt: testTime},
		},
	})
	resp := decodeSyncResponse(t, w)
	require.True(t, resp.Success)
	require.Equal(t, 1, resp.RecordsUpdated)

	c := store.cattle["t1|LS-1"]
	require.Equal(t, "LF2", c.LFTag)
	require.Equal(t, "EPC1", c.UHFTag)
	require.Len(t, c.TagPairHistory, 1)
	require.Equal(t, "LF1", c.TagPairHistory[0].LFTag)
}

func TestDispatchHandler(t *testing.T) {
	store, r := newTestIngestor()

	w := post(t, r, "/v2/event", "key-1", gin.H{
		"tenant": "t1",
		"event":  "induction",
		"data": []gin.H{
			{"event_id": "evt-1", "livestock_key": "LS-1", "batch_name": "B1", "timestamp": testTime},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeSyncResponse(t, w)
	require.Equal(t, 1, resp.RecordsCreated)
	require.NotNil(t, store.cattle["t1|LS-1"])

	t.Run("unknown kind is 400", func(t *testing.T) {
		w := post(t, r, "/v2/event", "key-1", gin.H{"tenant": "t1", "event": "teleport", "data": []gin.H{}})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCattleHandler(t *testing.T) {
	_, r := newTestIngestor()
	post(t, r, "/v1/feedlot/induction-events", "key-1", inductionReq("t1",
		v1.InductionRecord{EventID: "evt-1", LivestockKey: "LS-1", BatchName: "B1", OccurredAt: testTime}))

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/feedlot/cattle/LS-1", nil)
		req.Header.Set("X-API-Key", "key-1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var c herd.Cattle
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
		require.Equal(t, "LS-1", c.LivestockKey)
	})

	t.Run("unknown batch and pen are 404", func(t *testing.T) {
		for _, path := range []string{"/v1/feedlot/batches/B-none", "/v1/feedlot/pens/P-none"} {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.Header.Set("X-API-Key", "key-1")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, http.StatusNotFound, w.Code)
		}
	})

	t.Run("other tenant cannot see it", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/feedlot/cattle/LS-1", nil)
		req.Header.Set("X-API-Key", "key-2")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}
