package ingestion

import (
	"github.com/gin-gonic/gin"

	"github.com/herdlinx-lab/herdlinx/internal/core/storage"
)

// Service is the edge gateway's HTTP boundary: raw radio payloads, typed
// operator events, and derived-view reads.
type Service struct {
	ledger           storage.LedgerStore
	buffer           storage.PayloadBuffer
	batches          storage.EdgeBatchStore
	maxBodySizeBytes int
}

func NewService(ledger storage.LedgerStore, buffer storage.PayloadBuffer, batches storage.EdgeBatchStore, maxBodySizeMB int) *Service {
	if ledger == nil {
		panic("ingestion: ledger must not be nil")
	}
	if buffer == nil {
		panic("ingestion: buffer must not be nil")
	}
	if batches == nil {
		panic("ingestion: batches must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		ledger:           ledger,
		buffer:           buffer,
		batches:          batches,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the edge ingestion routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	// LoRa boundary: raw reader payloads.
	r.POST("/v1/payloads", s.PayloadHandler)
	r.GET("/v1/payloads/status", s.PayloadStatusHandler)

	// Operator boundary: typed ledger events.
	r.POST("/v1/events", s.EventHandler)

	// Derived reads.
	r.GET("/v1/livestock/:key", s.ViewHandler)
	r.GET("/v1/livestock/:key/events", s.HistoryHandler)
}
