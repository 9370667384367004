package store

import (
	"context"

	"github.com/chatops-tools/matrix-indexer/internal/event"
)

// Stats holds the aggregate counters exposed by the query surface.
type Stats struct {
	TotalEvents   int64 `json:"total_events"`
	MessageEvents int64 `json:"message_events"`
	UniqueRooms   int64 `json:"unique_rooms"`
	UniqueUsers   int64 `json:"unique_users"`
}

// Store is the durable event store boundary. Writes are idempotent by event
// id: re-delivery of an id fully replaces the existing record and never
// duplicates it. Reads return records newest-first, capped by limit.
type Store interface {
	Upsert(ctx context.Context, rec *event.Record) error
	UpsertMany(ctx context.Context, recs []*event.Record) error

	EventsByRoom(ctx context.Context, roomID string, limit int) ([]*event.Record, error)
	EventsBySender(ctx context.Context, sender string, limit int) ([]*event.Record, error)
	EventsByType(ctx context.Context, eventType string, limit int) ([]*event.Record, error)
	EventsByTimeRange(ctx context.Context, fromTS, toTS int64, limit int) ([]*event.Record, error)
	SearchText(ctx context.Context, query string, limit int) ([]*event.Record, error)

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
