package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"uno-server/internal/database"
	"uno-server/internal/uno"
)

// SnapshotStore is what a Room needs from durable storage: put-latest for the
// match and an append-only sink for its log lines.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, m *uno.Match) error
	AppendEvents(ctx context.Context, roomID string, entries []uno.LogEntry) error
	// DeleteSnapshot forgets a room code's stored match and events. A new room
	// calls it before its first save, since codes are reused once a room is gone.
	DeleteSnapshot(ctx context.Context, roomID string) error
}

// PersistenceManager stores match snapshots and event history on database/sql.
// Queries are written with ? placeholders and rebound for postgres.
type PersistenceManager struct {
	db     *sql.DB
	driver string
}

func NewPersistenceManager(db *sql.DB, driver string) *PersistenceManager {
	return &PersistenceManager{
		db:     db,
		driver: driver,
	}
}

func (pm *PersistenceManager) q(query string) string {
	return database.Rebind(pm.driver, query)
}

// SaveSnapshot upserts the match. An older version never overwrites a newer one.
func (pm *PersistenceManager) SaveSnapshot(ctx context.Context, m *uno.Match) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize match %s: %w", m.RoomID, err)
	}

	query := pm.q(`
		INSERT INTO matches (room_id, status, version, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (room_id) DO UPDATE SET
			status = excluded.status,
			version = excluded.version,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
		WHERE matches.version <= excluded.version
	`)

	_, err = pm.db.ExecContext(ctx, query,
		m.RoomID,
		string(m.Status),
		m.Version,
		string(data),
		m.CreatedAt.UnixMilli(),
		m.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save match %s: %w", m.RoomID, err)
	}
	return nil
}

func (pm *PersistenceManager) LoadSnapshot(ctx context.Context, roomID string) (*uno.Match, error) {
	var data string
	err := pm.db.QueryRowContext(ctx, pm.q(`SELECT snapshot FROM matches WHERE room_id = ?`), roomID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, uno.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load match %s: %w", roomID, err)
	}

	var m uno.Match
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("failed to deserialize match %s: %w", roomID, err)
	}
	return &m, nil
}

// LoadActiveSnapshots returns every match that has not ended, newest first.
// Rows that no longer decode are skipped and reported in skipped.
func (pm *PersistenceManager) LoadActiveSnapshots(ctx context.Context) (matches []*uno.Match, skipped []string, err error) {
	rows, err := pm.db.QueryContext(ctx,
		pm.q(`SELECT room_id, snapshot FROM matches WHERE status != ? ORDER BY updated_at DESC`),
		string(uno.StatusEnded))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query active matches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roomID, data string
		if err := rows.Scan(&roomID, &data); err != nil {
			return nil, nil, fmt.Errorf("failed to scan match row: %w", err)
		}

		var m uno.Match
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			skipped = append(skipped, roomID)
			continue
		}
		matches = append(matches, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating match rows: %w", err)
	}
	return matches, skipped, nil
}

func (pm *PersistenceManager) DeleteSnapshot(ctx context.Context, roomID string) error {
	tx, err := pm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete of %s: %w", roomID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, pm.q(`DELETE FROM match_events WHERE room_id = ?`), roomID); err != nil {
		return fmt.Errorf("failed to delete events of %s: %w", roomID, err)
	}
	if _, err := tx.ExecContext(ctx, pm.q(`DELETE FROM matches WHERE room_id = ?`), roomID); err != nil {
		return fmt.Errorf("failed to delete match %s: %w", roomID, err)
	}
	return tx.Commit()
}

// AppendEvents writes log lines to the event table. Lines already stored are
// ignored, so overlapping batches are harmless.
func (pm *PersistenceManager) AppendEvents(ctx context.Context, roomID string, entries []uno.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := pm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin event append for %s: %w", roomID, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pm.q(`
		INSERT INTO match_events (room_id, seq, message, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (room_id, seq) DO NOTHING
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, roomID, e.Seq, e.Message, e.At.UnixMilli()); err != nil {
			return fmt.Errorf("failed to append event %d for %s: %w", e.Seq, roomID, err)
		}
	}
	return tx.Commit()
}

// LoadEvents returns stored log lines with seq greater than afterSeq, oldest first.
func (pm *PersistenceManager) LoadEvents(ctx context.Context, roomID string, afterSeq int64, limit int) ([]uno.LogEntry, error) {
	rows, err := pm.db.QueryContext(ctx,
		pm.q(`SELECT seq, message, created_at FROM match_events WHERE room_id = ? AND seq > ? ORDER BY seq LIMIT ?`),
		roomID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events of %s: %w", roomID, err)
	}
	defer rows.Close()

	entries := []uno.LogEntry{}
	for rows.Next() {
		var e uno.LogEntry
		var at int64
		if err := rows.Scan(&e.Seq, &e.Message, &at); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.At = time.UnixMilli(at).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return entries, nil
}

// CleanupOldMatches deletes matches untouched for longer than olderThan,
// together with their events.
func (pm *PersistenceManager) CleanupOldMatches(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()

	tx, err := pm.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cleanup: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, pm.q(`
		DELETE FROM match_events
		WHERE room_id IN (SELECT room_id FROM matches WHERE updated_at < ?)
	`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old events: %w", err)
	}

	result, err := tx.ExecContext(ctx, pm.q(`DELETE FROM matches WHERE updated_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old matches: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check cleanup result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return int(deleted), nil
}
