// Package audit records pipeline events for traceability. Sinks are
// best effort: a failed audit write is logged and never surfaces to the
// caller.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatvault/chatvault/internal/db"
)

// Event types emitted by the ingestion pipeline.
const (
	EventIngested       = "media.ingested"
	EventDuplicate      = "media.duplicate"
	EventTransferFailed = "media.transfer_failed"
	EventEdited         = "message.edited"
	EventTextIngested   = "text.ingested"
	EventRedriven       = "media.redriven"
	EventGroupSynced    = "group.synced"
)

// Event is one audit entry.
type Event struct {
	Type          string
	EntityID      string
	CorrelationID string
	Metadata      map[string]any
	ErrorMessage  string
	At            time.Time
}

// Sink accepts audit events.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// PGSink writes audit events to Postgres.
type PGSink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGSink creates a Postgres audit sink.
func NewPGSink(log *slog.Logger, pool *pgxpool.Pool) *PGSink {
	if log == nil {
		log = slog.Default()
	}
	return &PGSink{pool: pool, logger: log.With(slog.String("service", "audit"))}
}

func (s *PGSink) Record(ctx context.Context, event Event) {
	metadata := []byte("{}")
	if event.Metadata != nil {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			s.logger.Warn("audit metadata not serializable",
				slog.String("event_type", event.Type),
				slog.String("error", err.Error()))
		} else {
			metadata = data
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (event_type, entity_id, correlation_id, metadata, error_message)
		VALUES ($1, $2, $3, $4, $5)`,
		event.Type, db.ToPgText(event.EntityID), db.ToPgText(event.CorrelationID),
		metadata, db.ToPgText(event.ErrorMessage),
	)
	if err != nil {
		s.logger.Warn("audit event dropped",
			slog.String("event_type", event.Type),
			slog.String("entity_id", event.EntityID),
			slog.String("error", err.Error()))
	}
}

// NopSink discards events. Used in tests and when auditing is disabled.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) {}
