package ingestor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/herdlinx-lab/herdlinx/internal/api/v1"
	httperr "github.com/herdlinx-lab/herdlinx/internal/core/errors"
	"github.com/herdlinx-lab/herdlinx/internal/core/storage"
)

const tenantContextKey = "tenant"

// RequireAPIKey resolves the X-API-Key header to a tenant and stores it on
// the request context. Missing or unknown keys are 401.
func (s *Service) RequireAPIKey(c *gin.Context) {
	key := c.GetHeader("X-API-Key")
	if key == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnauthorizedError,
			Message:   "Missing API key",
		})
		return
	}

	tenant, err := s.keys.TenantForKey(c.Request.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		slog.Warn("Unknown API key presented")
		c.AbortWithStatusJSON(http.StatusUnauthorized, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnauthorizedError,
			Message:   "Invalid API key",
		})
		return
	}
	if err != nil {
		slog.Error("Failed to resolve API key", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to resolve API key",
		})
		return
	}

	c.Set(tenantContextKey, tenant)
	c.Next()
}

// requireTenantMatch enforces that the declared envelope tenant is the one
// the key is bound to. A mismatch is 403: the key is real but not for that
// tenant's data.
func requireTenantMatch(c *gin.Context, declared string) (string, bool) {
	bound := c.GetString(tenantContextKey)
	if declared == "" || declared != bound {
		slog.Warn("Tenant mismatch", "declared", declared, "bound", bound)
		c.JSON(http.StatusForbidden, httperr.ErrorResponse{
			ErrorType: httperr.HttpForbiddenError,
			Message:   "API key is not bound to the declared tenant",
		})
		return "", false
	}
	return bound, true
}

// batchOutcome accumulates per-record results in submission order.
type batchOutcome struct {
	created int
	updated int
	skipped int
	errs    []string
	results []v1.RecordResult
}

func (b *batchOutcome) add(eventID string, status v1.RecordStatus, msg string) {
	switch status {
	case v1.StatusCreated:
		b.created++
	case v1.StatusUpdated:
		b.updated++
	case v1.StatusSkipped:
		b.skipped++
	}
	b.errs = append(b.errs, msg)
	b.results = append(b.results, v1.RecordResult{EventID: eventID, Status: status, Error: msg})
}

func (b *batchOutcome) response() v1.SyncResponse {
	failed := 0
	for _, r := range b.results {
		if r.Status == v1.StatusFailed {
			failed++
		}
	}
	resp := v1.SyncResponse{
		Success:          failed == 0,
		RecordsProcessed: len(b.results),
		RecordsCreated:   b.created,
		RecordsUpdated:   b.updated,
		RecordsSkipped:   b.skipped,
		Errors:           b.errs,
		Results:          b.results,
	}
	if failed > 0 {
		resp.Message = fmt.Sprintf("%d record(s) failed", failed)
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	return resp
}

// classify maps a store error to a record outcome. Referential and duplicate
// conditions are terminal; anything else is a retryable server fault.
func classify(err error) (v1.RecordStatus, string) {
	switch {
	case err == nil:
		return v1.StatusUpdated, ""
	case errors.Is(err, storage.ErrLivestockNotFound):
		return v1.StatusSkipped, "livestock not found"
	default:
		return v1.StatusFailed, err.Error()
	}
}

// InductionHandler applies a batch of induction records.
func (s *Service) InductionHandler(c *gin.Context) {
	var req v1.SyncRequest[v1.InductionRecord]
	if !s.bindRequest(c, &req) {
		return
	}
	tenant, ok := requireTenantMatch(c, req.Tenant)
	if !ok {
		return
	}
	s.respond(c, tenant, "induction", len(req.Data), func(ctx context.Context, out *batchOutcome) {
		for i := range req.Data {
			rec := &req.Data[i]
			if rec.EventID == "" || rec.LivestockKey == "" || rec.BatchName == "" {
				out.add(rec.EventID, v1.StatusSkipped, "event_id, livestock_key and batch_name are required")
				continue
			}
			status, err := s.store.ApplyInduction(ctx, tenant, rec)
			if err != nil {
				st, msg := classify(err)
				out.add(rec.EventID, st, msg)
				continue
			}
			out.add(rec.EventID, status, "")
		}
	})
}

// PairingHandler applies a batch of pairing records.
func (s *Service) PairingHandler(c *gin.Context) {
	var req v1.SyncRequest[v1.PairingRecord]
	if !s.bindRequest(c, &req) {
		return
	}
	tenant, ok := requireTenantMatch(c, req.Tenant)
	if !ok {
		return
	}
	s.respond(c, tenant, "pairing", len(req.Data), func(ctx context.Context, out *batchOutcome) {
		for i := range req.Data {
			rec := &req.Data[i]
			if rec.EventID == "" || rec.LivestockKey == "" {
				out.add(rec.EventID, v1.StatusSkipped, "event_id and livestock_key are required")
				continue
			}
			if rec.LFTag == "" && rec.EPC == "" {
				out.add(rec.EventID, v1.StatusSkipped, "at least one of lf_tag or epc is required")
				continue
			}
			status, err := s.store.ApplyPairing(ctx, tenant, rec)
			if err != nil {
				st, msg := classify(err)
				out.add(rec.EventID, st, msg)
				continue
			}
			out.add(rec.EventID, status, "")
		}
	})
}

// CheckinHandler applies a batch of checkin records.
func (s *Service) CheckinHandler(c *gin.Context) {
	var req v1.SyncRequest[v1.CheckinRecord]
	if !s.bindRequest(c, &req) {
		return
	}
	tenant, ok := requireTenantMatch(c, req.Tenant)
	if !ok {
		return
	}
	s.respond(c, tenant, "checkin", len(req.Data), func(ctx context.Context, out *batchOutcome) {
		for i := range req.Data {
			rec := &req.Data[i]
			if rec.EventID == "" || rec.LivestockKey == "" {
				out.add(rec.EventID, v1.StatusSkipped, "event_id and livestock_key are required")
				continue
			}
			if rec.WeightKG == nil || *rec.WeightKG <= 0 {
				out.add(rec.EventID, v1.StatusSkipped, "weight_kg must be present and greater than 0")
				continue
			}
			status, err := s.store.ApplyCheckin(ctx, tenant, rec)
			if err != nil {
				st, msg := classify(err)
				out.add(rec.EventID, st, msg)
				continue
			}
			out.add(rec.EventID, status, "")
		}
	})
}

// RepairHandler applies a batch of repair records.
func (s *Service) RepairHandler(c *gin.Context) {
	var req v1.SyncRequest[v1.RepairRecord]
	if !s.bindRequest(c, &req) {
		return
	}
	tenant, ok := requireTenantMatch(c, req.Tenant)
	if !ok {
		return
	}
	s.respond(c, tenant, "repair", len(req.Data), func(ctx context.Context, out *batchOutcome) {
		for i := range req.Data {
			rec := &req.Data[i]
			if rec.EventID == "" || rec.LivestockKey == "" {
				out.add(rec.EventID, v1.StatusSkipped, "event_id and livestock_key are required")
				continue
			}
			if rec.NewLFTag == "" && rec.NewEPC == "" {
				out.add(rec.EventID, v1.StatusSkipped, "at least one of new_lf_tag or new_epc is required")
				continue
			}
			status, err := s.store.ApplyRepair(ctx, tenant, rec)
			if err != nil {
				st, msg := classify(err)
				out.add(rec.EventID, st, msg)
				continue
			}
			out.add(rec.EventID, status, "")
		}
	})
}

// DispatchHandler multiplexes the per-kind endpoints behind a single path,
// discriminated by the "event" field.
func (s *Service) DispatchHandler(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}

	var envelope struct {
		Tenant string          `json:"tenant"`
		Event  string          `json:"event"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid JSON body",
		})
		return
	}

	if !v1.Kind(envelope.Event).Valid() {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   fmt.Sprintf("unknown event kind %q", envelope.Event),
		})
		return
	}

	// Rewrap as the per-kind envelope and reuse the per-kind handler.
	rewrapped, err := json.Marshal(gin.H{"tenant": envelope.Tenant, "data": envelope.Data})
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to dispatch event batch",
		})
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(rewrapped))
	c.Request.ContentLength = int64(len(rewrapped))

	switch v1.Kind(envelope.Event) {
	case v1.KindInduction:
		s.InductionHandler(c)
	case v1.KindPairing:
		s.PairingHandler(c)
	case v1.KindCheckin:
		s.CheckinHandler(c)
	case v1.KindRepair:
		s.RepairHandler(c)
	}
}

// CattleHandler returns one aggregate with its history sub-lists.
func (s *Service) CattleHandler(c *gin.Context) {
	tenant := c.GetString(tenantContextKey)
	cattle, err := s.store.GetCattle(c.Request.Context(), tenant, c.Param("key"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotFoundError,
			Message:   "Cattle not found",
		})
		return
	}
	if err != nil {
		slog.Error("Failed to load cattle", "livestock_key", c.Param("key"), "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to load cattle",
		})
		return
	}
	c.JSON(http.StatusOK, cattle)
}

// BatchHandler returns one batch by its tenant-scoped name.
func (s *Service) BatchHandler(c *gin.Context) {
	tenant := c.GetString(tenantContextKey)
	batch, err := s.store.GetBatch(c.Request.Context(), tenant, c.Param("name"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotFoundError,
			Message:   "Batch not found",
		})
		return
	}
	if err != nil {
		slog.Error("Failed to load batch", "name", c.Param("name"), "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to load batch",
		})
		return
	}
	c.JSON(http.StatusOK, batch)
}

// PenHandler returns one pen by its tenant-scoped number.
func (s *Service) PenHandler(c *gin.Context) {
	tenant := c.GetString(tenantContextKey)
	pen, err := s.store.GetPen(c.Request.Context(), tenant, c.Param("number"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotFoundError,
			Message:   "Pen not found",
		})
		return
	}
	if err != nil {
		slog.Error("Failed to load pen", "number", c.Param("number"), "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to load pen",
		})
		return
	}
	c.JSON(http.StatusOK, pen)
}

// bindRequest reads and binds the size-limited request body.
func (s *Service) bindRequest(c *gin.Context, out interface{}) bool {
	body, ok := s.readBody(c)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(body))
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid JSON body",
		})
		return false
	}
	return true
}

func (s *Service) readBody(c *gin.Context) ([]byte, bool) {
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1)

	body, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to read request body",
		})
		return nil, false
	}
	if int64(len(body)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(body), "max", maxBytes)
		c.JSON(http.StatusRequestEntityTooLarge, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Request body exceeds maximum allowed size",
			Details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		})
		return nil, false
	}
	return body, true
}

// respond runs the batch application and writes the outcome. Batches always
// return 200; per-record outcomes live in the body so the client can advance
// its cursor precisely.
func (s *Service) respond(c *gin.Context, tenant, kind string, size int, apply func(context.Context, *batchOutcome)) {
	out := &batchOutcome{}
	apply(c.Request.Context(), out)

	resp := out.response()
	slog.Info("Applied record batch",
		"tenant", tenant,
		"kind", kind,
		"records", size,
		"created", resp.RecordsCreated,
		"updated", resp.RecordsUpdated,
		"skipped", resp.RecordsSkipped,
		"success", resp.Success)

	c.JSON(http.StatusOK, resp)
}
