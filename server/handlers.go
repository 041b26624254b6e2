// Package server exposes the HTTP API handlers.
package server

import (
	"database/sql"

	"github.com/onnwee/stream-pulse/analytics"
	"github.com/onnwee/stream-pulse/batch"
	"github.com/onnwee/stream-pulse/live"
	"github.com/onnwee/stream-pulse/storage"
)

// Deps carries the shared components the HTTP layer serves from. Reporter
// and Clips may be nil when analytics is not configured; their endpoints
// answer 503 in that case.
type Deps struct {
	DB       *sql.DB
	Live     *live.Metrics
	Sink     *storage.Sink
	Buffers  *batch.Set
	Reporter *analytics.Reporter
	Clips    *analytics.ClipAnalyzer
	ClientID string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}
