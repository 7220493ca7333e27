package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Payload source labels. Barn payloads come from in-pen readers, export
// payloads from the load-out race.
const (
	SourceBarn   = "barn"
	SourceExport = "export"
)

// ParsedPayload is the decoded form of one raw radio payload.
type ParsedPayload struct {
	SourceType string
	BatchName  string
	LFID       string
	EPC        string
}

// ParsePayload decodes the colon-delimited reader format
// "source:batch:lf:epc". All four fields must be present and non-empty.
func ParsePayload(raw string) (*ParsedPayload, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("expected 4 colon-delimited fields, got %d", len(parts))
	}

	p := &ParsedPayload{
		SourceType: strings.TrimSpace(parts[0]),
		BatchName:  strings.TrimSpace(parts[1]),
		LFID:       strings.TrimSpace(parts[2]),
		EPC:        strings.TrimSpace(parts[3]),
	}

	if p.SourceType != SourceBarn && p.SourceType != SourceExport {
		return nil, fmt.Errorf("unknown source type %q (must be %s or %s)", p.SourceType, SourceBarn, SourceExport)
	}
	if p.BatchName == "" {
		return nil, fmt.Errorf("batch name is empty")
	}
	if p.LFID == "" {
		return nil, fmt.Errorf("lf tag is empty")
	}
	if p.EPC == "" {
		return nil, fmt.Errorf("epc is empty")
	}

	return p, nil
}

// ContentHash is the transport-level dedup key: the same bytes arriving twice
// hash identically regardless of when or how they were relayed.
func ContentHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
