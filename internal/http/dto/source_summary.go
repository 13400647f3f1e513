package dto

import (
	"time"

	"github.com/edirooss/indexpool-server/internal/domain/source"
)

// RuntimeStatus describes the pooled handle behind a registered source.
type RuntimeStatus struct {
	Generation    uint64    `json:"generation"`     // snapshot generation of the current view
	DocCount      int       `json:"doc_count"`      // documents in the current view
	InUse         int64     `json:"in_use"`         // admitted readers right now
	Capacity      int64     `json:"capacity"`       // admission bound per handle
	OpenedAt      time.Time `json:"opened_at"`      // when the current view was opened
	PendingRetire int       `json:"pending_retire"` // superseded views still draining
}

// SourceSummary is the API model for GET /api/pool/summary.
// We embed Source so its fields are flattened (id, path, etc.) and
// add runtime fields conditionally.
//   - runtime is present only if the source is registered in the pool.
type SourceSummary struct {
	source.Source
	Runtime *RuntimeStatus `json:"runtime,omitempty"`
}

// SourceStat is the API model for GET /api/sources/{id}/stat. Built from a
// live acquisition, so generation and doc_count are exactly what a reader
// admitted at that moment was served.
type SourceStat struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	RuntimeStatus
}
