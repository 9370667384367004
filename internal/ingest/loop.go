// Package ingest runs the live-tail ingestion loop: long-poll the homeserver
// from the current cursor, persist each batch, then checkpoint the cursor.
package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chatops-tools/matrix-indexer/internal/cache"
	"github.com/chatops-tools/matrix-indexer/internal/cursor"
	"github.com/chatops-tools/matrix-indexer/internal/event"
	"github.com/chatops-tools/matrix-indexer/internal/matrix"
)

// State is the loop's current position in its cycle.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateApplying
	StateCheckpointing
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateApplying:
		return "applying"
	case StateCheckpointing:
		return "checkpointing"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Store is the slice of the event store the loop writes through.
type Store interface {
	UpsertMany(ctx context.Context, recs []*event.Record) error
}

// Loop is the live sync engine. One instance per process; it owns the cursor
// exclusively.
type Loop struct {
	client      matrix.Client
	store       Store
	cache       *cache.Recency
	cursor      *cursor.File
	pollTimeout time.Duration
	backoff     time.Duration
	logger      *zap.Logger

	state atomic.Int32
}

// NewLoop wires a sync loop. pollTimeout bounds each long-poll server-side;
// backoff is the fixed delay after any failed cycle.
func NewLoop(client matrix.Client, store Store, recency *cache.Recency, cur *cursor.File, pollTimeout, backoff time.Duration, logger *zap.Logger) *Loop {
	return &Loop{
		client:      client,
		store:       store,
		cache:       recency,
		cursor:      cur,
		pollTimeout: pollTimeout,
		backoff:     backoff,
		logger:      logger,
	}
}

// State returns the loop's current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Run drives the loop until ctx is cancelled or a fatal error occurs.
// Failed cycles never advance the cursor, so after back-off the same batch is
// re-polled; idempotent upserts make the replay safe. Cancellation is
// observed at the top of every cycle and returns nil with the cursor at its
// last persisted value.
func (l *Loop) Run(ctx context.Context) error {
	since, err := l.cursor.Load()
	if err != nil {
		return fmt.Errorf("loading sync cursor: %w", err)
	}
	if since == "" {
		l.logger.Info("no saved cursor, starting from current server position")
	} else {
		l.logger.Info("resuming from saved cursor", zap.String("token", since))
	}

	for {
		select {
		case <-ctx.Done():
			l.setState(StateStopped)
			l.logger.Info("sync loop stopped")
			return nil
		default:
		}

		l.setState(StatePolling)
		resp, err := l.client.Sync(ctx, since, l.pollTimeout)
		if err != nil {
			if matrix.IsFatal(err) {
				l.setState(StateStopped)
				return fmt.Errorf("sync poll: %w", err)
			}
			if ctx.Err() != nil {
				continue
			}
			l.logger.Error("sync poll failed", zap.Error(err))
			l.waitBackoff(ctx)
			continue
		}

		l.setState(StateApplying)
		if err := l.apply(ctx, resp); err != nil {
			// The cursor stays put: the next poll replays this batch.
			l.logger.Error("applying sync batch failed", zap.Error(err))
			l.waitBackoff(ctx)
			continue
		}

		l.setState(StateCheckpointing)
		if err := l.cursor.Save(resp.NextBatch); err != nil {
			// The in-memory token still advances; a crash before the
			// next successful save replays from the previous durable
			// token, which upserts absorb.
			l.logger.Warn("saving sync cursor failed", zap.Error(err))
		}
		since = resp.NextBatch
		l.logger.Debug("sync cycle complete", zap.String("next_batch", resp.NextBatch))
	}
}

// apply serializes and durably stores every room's new timeline events.
// Malformed events are skipped; any storage error aborts the batch so the
// cursor does not advance past undurable data.
func (l *Loop) apply(ctx context.Context, resp *matrix.SyncResponse) error {
	total := 0
	for roomID, joined := range resp.Rooms.Join {
		if len(joined.Timeline.Events) == 0 {
			continue
		}

		recs := make([]*event.Record, 0, len(joined.Timeline.Events))
		for _, raw := range joined.Timeline.Events {
			rec, err := event.Serialize(roomID, raw)
			if err != nil {
				l.logger.Warn("skipping malformed event",
					zap.String("room_id", roomID), zap.Error(err))
				continue
			}
			recs = append(recs, rec)
		}
		if len(recs) == 0 {
			continue
		}

		if err := l.store.UpsertMany(ctx, recs); err != nil {
			return fmt.Errorf("storing %d events for %s: %w", len(recs), roomID, err)
		}
		for _, rec := range recs {
			l.cache.Add(rec.EventID, rec)
		}
		total += len(recs)
	}

	if total > 0 {
		l.logger.Info("stored events", zap.Int("count", total))
	}
	return nil
}

// waitBackoff sleeps for the back-off interval. It returns true when the
// wait was cut short by cancellation.
func (l *Loop) waitBackoff(ctx context.Context) bool {
	l.setState(StateBackoff)
	select {
	case <-ctx.Done():
		return true
	case <-time.After(l.backoff):
		return false
	}
}
