package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	v1 "github.com/herdlinx-lab/herdlinx/internal/api/v1"
	"github.com/herdlinx-lab/herdlinx/internal/core/storage"
)

// kindEndpoints maps each event kind to its reconciliation endpoint path.
var kindEndpoints = map[v1.Kind]string{
	v1.KindInduction: "/v1/feedlot/induction-events",
	v1.KindPairing:   "/v1/feedlot/pairing-events",
	v1.KindCheckin:   "/v1/feedlot/checkin-events",
	v1.KindRepair:    "/v1/feedlot/repair-events",
}

// Client pushes unsynced ledger events to the cloud ingestor, kind by kind in
// priority order, and advances the per-kind cursor past the contiguous prefix
// of terminally-handled records.
type Client struct {
	ledger    storage.LedgerStore
	cursors   storage.CursorStore
	baseURL   string
	apiKey    string
	tenant    string
	batchSize int
	http      *http.Client
}

func NewClient(ledger storage.LedgerStore, cursors storage.CursorStore, baseURL, apiKey, tenant string, batchSize int, requestTimeout time.Duration) *Client {
	return &Client{
		ledger:    ledger,
		cursors:   cursors,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		tenant:    tenant,
		batchSize: batchSize,
		http:      &http.Client{Timeout: requestTimeout},
	}
}

// SyncCycle drains every kind in priority order. Induction goes first so that
// later kinds find their aggregate records in place. A retryable failure in
// one kind aborts the cycle; whatever was acknowledged before it stays
// acknowledged.
func (c *Client) SyncCycle(ctx context.Context) (int, error) {
	total := 0
	for _, kind := range v1.Kinds {
		synced, err := c.syncKind(ctx, kind)
		total += synced
		if err != nil {
			return total, fmt.Errorf("sync %s: %w", kind, err)
		}
	}
	return total, nil
}

// syncKind drains one kind's backlog in batches until a short batch or a
// retryable failure.
func (c *Client) syncKind(ctx context.Context, kind v1.Kind) (int, error) {
	total := 0
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		cursor, err := c.cursors.ResumePoint(ctx, kind)
		if err != nil {
			return total, err
		}

		events, err := c.ledger.EventsSince(ctx, kind, cursor, c.batchSize)
		if err != nil {
			return total, err
		}
		if len(events) == 0 {
			return total, nil
		}

		resp, err := c.submit(ctx, kind, events)
		if err != nil {
			// Transport fault: nothing acknowledged, cursor untouched.
			return total, err
		}

		prefix := terminalPrefix(events, resp)
		if prefix > 0 {
			watermark := events[prefix-1].RecordedSeq
			if err := c.cursors.MarkAcknowledged(ctx, kind, watermark); err != nil {
				return total, err
			}
			total += prefix
			slog.Info("[Sync] Advanced cursor",
				"kind", kind,
				"watermark", watermark,
				"acknowledged", prefix,
				"submitted", len(events))
		}

		if prefix < len(events) {
			return total, fmt.Errorf("record %s not acknowledged (retryable failure)", events[prefix].EventID)
		}
		if len(events) < c.batchSize {
			return total, nil
		}
	}
}

// submit POSTs one batch and decodes the per-record outcome.
func (c *Client) submit(ctx context.Context, kind v1.Kind, events []*v1.Event) (*v1.SyncResponse, error) {
	body, err := json.Marshal(buildRequest(c.tenant, kind, events))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+kindEndpoints[kind], bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", httpResp.StatusCode, truncate(respBody, 256))
	}

	var resp v1.SyncResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// terminalPrefix computes how many leading records the cursor may move past.
// The per-record results are authoritative; the aligned errors array is the
// fallback for servers without result support, where any rejection stops the
// prefix because its retryability is unknown.
func terminalPrefix(events []*v1.Event, resp *v1.SyncResponse) int {
	if len(resp.Results) > 0 {
		n := 0
		for i, e := range events {
			if i >= len(resp.Results) {
				break
			}
			r := resp.Results[i]
			if r.EventID != "" && r.EventID != e.EventID {
				slog.Warn("[Sync] Result misaligned with submission",
					"index", i, "sent", e.EventID, "got", r.EventID)
				break
			}
			if !r.Status.Terminal() {
				break
			}
			n++
		}
		return n
	}

	if len(resp.Errors) > 0 {
		n := 0
		for i := range events {
			if i >= len(resp.Errors) || resp.Errors[i] != "" {
				break
			}
			n++
		}
		return n
	}

	if resp.Success {
		return len(events)
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
