package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatops-tools/matrix-indexer/internal/event"
)

const selectColumns = "event_id, room_id, sender, type, origin_server_ts, content, source, backfilled"

// EventsByRoom returns up to limit events for the room, newest first.
func (s *SQLiteStore) EventsByRoom(ctx context.Context, roomID string, limit int) ([]*event.Record, error) {
	return s.queryRecords(ctx, `
		SELECT `+selectColumns+` FROM events
		WHERE room_id = ?
		ORDER BY origin_server_ts DESC
		LIMIT ?`, roomID, capLimit(limit))
}

// EventsBySender returns up to limit events sent by sender, newest first.
func (s *SQLiteStore) EventsBySender(ctx context.Context, sender string, limit int) ([]*event.Record, error) {
	return s.queryRecords(ctx, `
		SELECT `+selectColumns+` FROM events
		WHERE sender = ?
		ORDER BY origin_server_ts DESC
		LIMIT ?`, sender, capLimit(limit))
}

// EventsByType returns up to limit events with the given type tag, newest first.
func (s *SQLiteStore) EventsByType(ctx context.Context, eventType string, limit int) ([]*event.Record, error) {
	return s.queryRecords(ctx, `
		SELECT `+selectColumns+` FROM events
		WHERE type = ?
		ORDER BY origin_server_ts DESC
		LIMIT ?`, eventType, capLimit(limit))
}

// EventsByTimeRange returns up to limit events with origin_server_ts in
// [fromTS, toTS] milliseconds, newest first.
func (s *SQLiteStore) EventsByTimeRange(ctx context.Context, fromTS, toTS int64, limit int) ([]*event.Record, error) {
	return s.queryRecords(ctx, `
		SELECT `+selectColumns+` FROM events
		WHERE origin_server_ts >= ? AND origin_server_ts <= ?
		ORDER BY origin_server_ts DESC
		LIMIT ?`, fromTS, toTS, capLimit(limit))
}

// SearchText runs a full-text match against message bodies, best match first.
func (s *SQLiteStore) SearchText(ctx context.Context, query string, limit int) ([]*event.Record, error) {
	return s.queryRecords(ctx, `
		SELECT `+qualifiedColumns("e")+`
		FROM events e
		JOIN events_fts ON events_fts.rowid = e.rowid
		WHERE events_fts MATCH ?
		ORDER BY events_fts.rank
		LIMIT ?`, query, capLimit(limit))
}

// Stats returns aggregate counters over the whole store.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(type = 'm.room.message'), 0),
		       COUNT(DISTINCT room_id),
		       COUNT(DISTINCT sender)
		FROM events`).Scan(&st.TotalEvents, &st.MessageEvents, &st.UniqueRooms, &st.UniqueUsers)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return &st, nil
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]*event.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*event.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) scanRecord(scanner interface{ Scan(...any) error }) (*event.Record, error) {
	var rec event.Record
	var contentJSON string
	var source []byte
	var backfilled int

	if err := scanner.Scan(
		&rec.EventID, &rec.RoomID, &rec.Sender, &rec.Type, &rec.OriginServerTS,
		&contentJSON, &source, &backfilled); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	if err := json.Unmarshal([]byte(contentJSON), &rec.Content); err != nil {
		return nil, fmt.Errorf("decode content for %s: %w", rec.EventID, err)
	}
	if len(source) > 0 {
		raw, err := s.dec.DecodeAll(source, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress source for %s: %w", rec.EventID, err)
		}
		rec.Source = raw
	}
	rec.Backfilled = backfilled != 0

	return &rec, nil
}

func qualifiedColumns(alias string) string {
	return alias + ".event_id, " + alias + ".room_id, " + alias + ".sender, " +
		alias + ".type, " + alias + ".origin_server_ts, " + alias + ".content, " +
		alias + ".source, " + alias + ".backfilled"
}

const defaultQueryLimit = 50

func capLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	return limit
}

var _ Store = (*SQLiteStore)(nil)
