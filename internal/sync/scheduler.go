package sync

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	v1 "github.com/herdlinx-lab/herdlinx/internal/api/v1"
	"github.com/herdlinx-lab/herdlinx/internal/core/storage"
)

// Scheduler runs reconciliation cycles on a periodic interval.
// It is stateless between ticks: each cycle independently resumes from the
// durable per-kind cursors.
type Scheduler struct {
	client   *Client
	cursors  storage.CursorStore
	interval time.Duration

	mu    sync.Mutex
	stats storage.SyncStats
}

func NewScheduler(client *Client, cursors storage.CursorStore, interval time.Duration) *Scheduler {
	return &Scheduler{
		client:   client,
		cursors:  cursors,
		interval: interval,
	}
}

// Start begins periodic reconciliation. Runs until context is cancelled,
// then performs one final cycle so a clean shutdown leaves no avoidable
// backlog.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Sync] Starting reconciliation scheduler", "interval", s.interval)

	// Initial cycle to catch up with any backlog from downtime.
	s.runCycle(ctx)

	for {
		select {
		case <-ticker.C:
			s.runCycle(ctx)
		case <-ctx.Done():
			slog.Info("[Sync] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			slog.Info("[Sync] Running final cycle before shutdown...")
			s.runCycle(shutdownCtx)
			slog.Info("[Sync] Final cycle complete")

			return nil
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	synced, err := s.client.SyncCycle(ctx)

	s.mu.Lock()
	s.stats.TotalCycles++
	s.stats.RecordsSynced += int64(synced)
	now := time.Now().UTC()
	s.stats.LastSyncTime = &now
	if err != nil {
		s.stats.FailedCycles++
	} else {
		s.stats.SuccessfulCycles++
	}
	s.mu.Unlock()

	if err != nil {
		slog.Warn("[Sync] Cycle incomplete", "error", err, "records_synced", synced)
		return
	}
	if synced > 0 {
		slog.Info("[Sync] Cycle complete", "records_synced", synced)
	}
}

// Stats returns a snapshot of the running counters.
func (s *Scheduler) Stats() storage.SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// RegisterRoutes registers the sync status endpoint.
func (s *Scheduler) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/sync/status", s.StatusHandler)
}

// StatusHandler reports the running counters and the durable per-kind
// cursors.
func (s *Scheduler) StatusHandler(c *gin.Context) {
	cursors := make(map[string]int64, len(v1.Kinds))
	for _, kind := range v1.Kinds {
		seq, err := s.cursors.ResumePoint(c.Request.Context(), kind)
		if err != nil {
			slog.Error("Failed to read sync cursor", "kind", kind, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read cursors"})
			return
		}
		cursors[string(kind)] = seq
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":   s.Stats(),
		"cursors": cursors,
	})
}
