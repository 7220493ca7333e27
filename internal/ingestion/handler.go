package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	v1 "github.com/herdlinx-lab/herdlinx/internal/api/v1"
	httperr "github.com/herdlinx-lab/herdlinx/internal/core/errors"
	"github.com/herdlinx-lab/herdlinx/internal/core/storage"
)

const (
	msgReadBodyFailed     = "Failed to read request body"
	msgInvalidJSON        = "Invalid JSON body"
	msgPersistFailed      = "Failed to persist event"
	msgDuplicateEvent     = "Event already exists"
	msgDuplicateInduction = "Livestock already inducted"
	msgDuplicatePayload   = "Payload already received"
)

// Batch source labels recorded on auto-created local batch rows.
const (
	batchSourceBarn   = "Barn"
	batchSourceExport = "Export"
	batchSourceManual = "Manual"
)

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// PayloadHandler ingests one raw radio payload: dedup by content hash, parse,
// resolve the local batch, finalize the buffer row.
func (s *Service) PayloadHandler(c *gin.Context) {
	var req struct {
		Payload string `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Payload == "" {
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		})
		return
	}

	ctx := c.Request.Context()
	hash := ContentHash(req.Payload)

	bufferID, err := s.buffer.RecordPayload(ctx, req.Payload, hash)
	if errors.Is(err, storage.ErrDuplicatePayload) {
		slog.Info("Duplicate payload rejected", "buffer_id", bufferID, "hash", hash)
		writeError(c, &ingestionError{
			statusCode: http.StatusConflict,
			errorType:  httperr.HttpDuplicateError,
			message:    msgDuplicatePayload,
			details:    map[string]interface{}{"id": bufferID},
		})
		return
	}
	if err != nil {
		slog.Error("Failed to buffer payload", "error", err)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    "Failed to buffer payload",
		})
		return
	}

	parsed, err := ParsePayload(req.Payload)
	if err != nil {
		slog.Warn("Unparseable payload", "buffer_id", bufferID, "error", err)
		if markErr := s.buffer.MarkPayloadError(ctx, bufferID, err.Error()); markErr != nil {
			slog.Error("Failed to mark payload error", "buffer_id", bufferID, "error", markErr)
		}
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidPayloadError,
			message:    err.Error(),
		})
		return
	}

	created, err := s.batches.ResolveOrCreateBatch(ctx, parsed.BatchName, batchSourceLabel(parsed.SourceType), "")
	if err != nil {
		slog.Error("Failed to resolve batch for payload", "batch_name", parsed.BatchName, "error", err)
		if markErr := s.buffer.MarkPayloadError(ctx, bufferID, err.Error()); markErr != nil {
			slog.Error("Failed to mark payload error", "buffer_id", bufferID, "error", markErr)
		}
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    "Failed to resolve batch",
		})
		return
	}

	if err := s.buffer.MarkPayloadProcessed(ctx, bufferID, parsed.BatchName); err != nil {
		slog.Error("Failed to finalize payload", "buffer_id", bufferID, "error", err)
	}

	slog.Info("Processed payload",
		"buffer_id", bufferID,
		"source_type", parsed.SourceType,
		"batch_name", parsed.BatchName,
		"batch_created", created)

	c.JSON(http.StatusAccepted, gin.H{
		"status":      "processed",
		"id":          bufferID,
		"source_type": parsed.SourceType,
		"batch_name":  parsed.BatchName,
		"lf_id":       parsed.LFID,
		"epc":         parsed.EPC,
	})
}

// PayloadStatusHandler reports buffer counts by status.
func (s *Service) PayloadStatusHandler(c *gin.Context) {
	stats, err := s.buffer.BufferStats(c.Request.Context())
	if err != nil {
		slog.Error("Failed to read buffer stats", "error", err)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    "Failed to read buffer stats",
		})
		return
	}

	total := 0
	for _, n := range stats {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"statuses": stats, "total": total})
}

// EventHandler appends one typed operator event to the ledger.
func (s *Service) EventHandler(c *gin.Context) {
	evt, payloadSize, err := s.parseEvent(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if validateErr := evt.Validate(); validateErr != nil {
		slog.Warn("Event validation failed", "error", validateErr, "event_id", evt.EventID)
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    validateErr.Error(),
		})
		return
	}

	slog.Info("Received Event",
		"event_id", evt.EventID,
		"livestock_key", evt.LivestockKey,
		"kind", evt.Kind,
		"payload_size", payloadSize)

	if err := s.persistEvent(c.Request.Context(), evt); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":      "accepted",
		"event_id":    evt.EventID,
		"recorded_at": evt.RecordedAt,
	})
}

// ViewHandler returns the derived current-state row for one animal.
func (s *Service) ViewHandler(c *gin.Context) {
	view, err := s.ledger.View(c.Request.Context(), c.Param("key"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(c, &ingestionError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpNotFoundError,
			message:    "Livestock not found",
		})
		return
	}
	if err != nil {
		slog.Error("Failed to read view", "livestock_key", c.Param("key"), "error", err)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    "Failed to read view",
		})
		return
	}

	c.JSON(http.StatusOK, view)
}

// HistoryHandler returns an animal's full event sequence in fold order. An
// unknown key is an empty sequence, not an error.
func (s *Service) HistoryHandler(c *gin.Context) {
	events, err := s.ledger.EventsForLivestock(c.Request.Context(), c.Param("key"))
	if err != nil {
		slog.Error("Failed to read history", "livestock_key", c.Param("key"), "error", err)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    "Failed to read history",
		})
		return
	}

	if events == nil {
		events = []*v1.Event{}
	}
	c.JSON(http.StatusOK, gin.H{
		"livestock_key": c.Param("key"),
		"events":        events,
	})
}

// parseEvent reads the raw request body and binds it into an Event struct.
// Returns the parsed event and the raw payload size (used for structured logging upstream).
func (s *Service) parseEvent(c *gin.Context) (*v1.Event, int, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var evt v1.Event
	if err := c.ShouldBindJSON(&evt); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	// Operator clients may omit event_id; the gateway then owns idempotency.
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	return &evt, len(bodyBytes), nil
}

// persistEvent appends the event to the ledger and resolves the local batch
// row for inductions. The batch row is bookkeeping only: its failure is
// logged, not surfaced, because the event is already committed.
func (s *Service) persistEvent(ctx context.Context, evt *v1.Event) *ingestionError {
	if err := s.ledger.AppendEvent(ctx, evt); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateEvent):
			slog.Info("Duplicate event rejected", "event_id", evt.EventID, "livestock_key", evt.LivestockKey)
			return &ingestionError{
				statusCode: http.StatusConflict,
				errorType:  httperr.HttpDuplicateError,
				message:    msgDuplicateEvent,
			}
		case errors.Is(err, storage.ErrDuplicateInduction):
			slog.Info("Second induction rejected", "event_id", evt.EventID, "livestock_key", evt.LivestockKey)
			return &ingestionError{
				statusCode: http.StatusConflict,
				errorType:  httperr.HttpDuplicateError,
				message:    msgDuplicateInduction,
			}
		}

		slog.Error("Failed to persist event", "error", err, "event_id", evt.EventID)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgPersistFailed,
		}
	}

	if evt.Kind == v1.KindInduction {
		if _, err := s.batches.ResolveOrCreateBatch(ctx, evt.Payload.BatchName, batchSourceManual, ""); err != nil {
			slog.Warn("Failed to resolve batch for induction", "batch_name", evt.Payload.BatchName, "error", err)
		}
	}

	return nil
}

func batchSourceLabel(sourceType string) string {
	if sourceType == SourceExport {
		return batchSourceExport
	}
	return batchSourceBarn
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
