// Package backfill retroactively fetches room history older than what the
// live sync path has observed, walking backward in pages and feeding the same
// idempotent store path.
package backfill

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chatops-tools/matrix-indexer/internal/cache"
	"github.com/chatops-tools/matrix-indexer/internal/event"
	"github.com/chatops-tools/matrix-indexer/internal/matrix"
)

// Store is the slice of the event store the walker writes through.
type Store interface {
	UpsertMany(ctx context.Context, recs []*event.Record) error
}

// Walker pages backward through room history. It may run concurrently with
// the live sync loop; both write through the same idempotent upsert path, so
// overlapping coverage is safe.
type Walker struct {
	client    matrix.Client
	store     Store
	cache     *cache.Recency
	batchSize int
	limiter   *rate.Limiter // spaces history requests to respect server rate limits
	roomDelay time.Duration
	logger    *zap.Logger
}

// NewWalker wires a walker. batchSize is the page size per history request,
// batchDelay the minimum spacing between pages, roomDelay the pause between
// rooms in the all-rooms sweep.
func NewWalker(client matrix.Client, store Store, recency *cache.Recency, batchSize int, batchDelay, roomDelay time.Duration, logger *zap.Logger) *Walker {
	if batchSize < 1 {
		batchSize = 100
	}
	if batchDelay <= 0 {
		batchDelay = 100 * time.Millisecond
	}
	return &Walker{
		client:    client,
		store:     store,
		cache:     recency,
		batchSize: batchSize,
		limiter:   rate.NewLimiter(rate.Every(batchDelay), 1),
		roomDelay: roomDelay,
		logger:    logger,
	}
}

// BackfillRoom walks backward from the room's earliest-known position and
// stores up to limit events. Running out of history (no continuation token or
// an empty page) is normal termination, not an error. Returns the number of
// events durably stored.
func (w *Walker) BackfillRoom(ctx context.Context, roomID string, limit int) (int, error) {
	from := w.client.PrevBatch(roomID)
	if from == "" {
		w.logger.Warn("room has no known history position", zap.String("room_id", roomID))
		return 0, nil
	}

	w.logger.Info("backfilling room",
		zap.String("room_id", roomID),
		zap.Int("limit", limit),
	)

	count := 0
	for count < limit {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		batch := w.batchSize
		if remaining := limit - count; remaining < batch {
			batch = remaining
		}

		resp, err := w.client.Messages(ctx, roomID, from, matrix.DirBackward, batch)
		if err != nil {
			return count, fmt.Errorf("fetching history for %s: %w", roomID, err)
		}

		if len(resp.Chunk) == 0 {
			w.logger.Info("no more messages in room", zap.String("room_id", roomID))
			break
		}

		recs := make([]*event.Record, 0, len(resp.Chunk))
		for _, raw := range resp.Chunk {
			rec, err := event.Serialize(roomID, raw)
			if err != nil {
				w.logger.Warn("skipping malformed event",
					zap.String("room_id", roomID), zap.Error(err))
				continue
			}
			rec.Backfilled = true
			recs = append(recs, rec)
		}

		if len(recs) > 0 {
			if err := w.store.UpsertMany(ctx, recs); err != nil {
				return count, fmt.Errorf("storing backfill batch for %s: %w", roomID, err)
			}
			for _, rec := range recs {
				w.cache.Add(rec.EventID, rec)
			}
			count += len(recs)
			w.logger.Debug("stored backfill batch",
				zap.String("room_id", roomID), zap.Int("events", len(recs)))
		}

		if resp.End == "" {
			w.logger.Info("reached beginning of room history", zap.String("room_id", roomID))
			break
		}
		from = resp.End

		if err := w.limiter.Wait(ctx); err != nil {
			return count, err
		}
	}

	w.logger.Info("backfill complete",
		zap.String("room_id", roomID), zap.Int("events", count))
	return count, nil
}

// BackfillAllRooms sweeps every currently joined room and returns the stored
// event count per room. A failure in one room is logged and reported as a
// zero count; remaining rooms still run. Partial success is the expected
// outcome.
func (w *Walker) BackfillAllRooms(ctx context.Context, limitPerRoom int) (map[string]int, error) {
	rooms := w.client.JoinedRooms()
	w.logger.Info("starting backfill sweep", zap.Int("rooms", len(rooms)))

	results := make(map[string]int, len(rooms))
	for i, roomID := range rooms {
		count, err := w.BackfillRoom(ctx, roomID, limitPerRoom)
		if err != nil {
			if ctx.Err() != nil {
				results[roomID] = 0
				return results, ctx.Err()
			}
			w.logger.Error("backfill failed for room",
				zap.String("room_id", roomID), zap.Error(err))
			results[roomID] = 0
		} else {
			results[roomID] = count
		}

		if i < len(rooms)-1 && w.roomDelay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(w.roomDelay):
			}
		}
	}

	total := 0
	for _, c := range results {
		total += c
	}
	w.logger.Info("backfill sweep complete", zap.Int("total_events", total))
	return results, nil
}
