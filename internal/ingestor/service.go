package ingestor

import (
	"github.com/gin-gonic/gin"

	"github.com/herdlinx-lab/herdlinx/internal/core/storage"
)

// Service is the cloud reconciliation boundary: authenticated, per-kind batch
// ingestion into the aggregate store.
type Service struct {
	store            storage.AggregateStore
	keys             storage.APIKeyStore
	maxBodySizeBytes int
}

func NewService(store storage.AggregateStore, keys storage.APIKeyStore, maxBodySizeMB int) *Service {
	if store == nil {
		panic("ingestor: store must not be nil")
	}
	if keys == nil {
		panic("ingestor: keys must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		store:            store,
		keys:             keys,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the reconciliation routes. Everything under the
// group requires a valid API key.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	authed := r.Group("/", s.RequireAPIKey)

	// Per-kind batch endpoints, one per event kind.
	authed.POST("/v1/feedlot/induction-events", s.InductionHandler)
	authed.POST("/v1/feedlot/pairing-events", s.PairingHandler)
	authed.POST("/v1/feedlot/checkin-events", s.CheckinHandler)
	authed.POST("/v1/feedlot/repair-events", s.RepairHandler)

	// Unified dispatch endpoint for clients that multiplex kinds.
	authed.POST("/v2/event", s.DispatchHandler)

	// Aggregate reads.
	authed.GET("/v1/feedlot/cattle/:key", s.CattleHandler)
	authed.GET("/v1/feedlot/batches/:name", s.BatchHandler)
	authed.GET("/v1/feedlot/pens/:number", s.PenHandler)
}
