package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/chatops-tools/matrix-indexer/internal/event"
)

// SQLiteStore is the SQLite-backed event store.
type SQLiteStore struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewSQLiteStore opens (creating if needed) the database at dbPath, applies
// pragmas and schema migrations, and returns a ready store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &SQLiteStore{db: db, enc: enc, dec: dec}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const upsertSQL = `
	INSERT INTO events (event_id, room_id, sender, type, origin_server_ts, content, source, backfilled)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(event_id) DO UPDATE SET
		room_id = excluded.room_id,
		sender = excluded.sender,
		type = excluded.type,
		origin_server_ts = excluded.origin_server_ts,
		content = excluded.content,
		source = excluded.source,
		backfilled = excluded.backfilled`

// Upsert writes one record, replacing any existing record with the same
// event id.
func (s *SQLiteStore) Upsert(ctx context.Context, rec *event.Record) error {
	contentJSON, source, err := s.encodeRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, upsertSQL,
		rec.EventID, rec.RoomID, rec.Sender, rec.Type, rec.OriginServerTS,
		contentJSON, source, boolToInt(rec.Backfilled))
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", rec.EventID, err)
	}
	return nil
}

// UpsertMany writes a batch of records inside one transaction. A failure on
// any record rolls back the whole batch, so callers retry it intact from an
// unadvanced position; no record is ever silently dropped.
func (s *SQLiteStore) UpsertMany(ctx context.Context, recs []*event.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range recs {
		contentJSON, source, err := s.encodeRecord(rec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			rec.EventID, rec.RoomID, rec.Sender, rec.Type, rec.OriginServerTS,
			contentJSON, source, boolToInt(rec.Backfilled)); err != nil {
			return fmt.Errorf("upsert event %s: %w", rec.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// encodeRecord prepares the content JSON and zstd-compressed source blob for
// a write.
func (s *SQLiteStore) encodeRecord(rec *event.Record) (string, []byte, error) {
	content := rec.Content
	if content == nil {
		content = map[string]any{}
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return "", nil, fmt.Errorf("encode content for %s: %w", rec.EventID, err)
	}

	var source []byte
	if len(rec.Source) > 0 {
		source = s.enc.EncodeAll(rec.Source, nil)
	}
	return string(contentJSON), source, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
