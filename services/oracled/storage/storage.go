// Package storage persists the oracled state: the engine's key-value state
// and an operator-facing audit journal of update decisions.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS oracle_state (
    key   TEXT PRIMARY KEY,
    value BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS update_audit (
    id          TEXT PRIMARY KEY,
    asset       TEXT NOT NULL,
    op          TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    detail      TEXT NOT NULL DEFAULT '',
    feed_time   INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS update_audit_asset_idx ON update_audit(asset, recorded_at);
CREATE TABLE IF NOT EXISTS control_events (
    id          TEXT PRIMARY KEY,
    engaged     INTEGER NOT NULL,
    actor       TEXT NOT NULL,
    reason      TEXT NOT NULL DEFAULT '',
    recorded_at INTEGER NOT NULL
);
`

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("oracled storage path must be configured")

// Storage wraps the oracled persistence layer.
type Storage struct {
	db *sql.DB
}

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(path string) (*Storage, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// State returns the engine-facing key-value view of the store.
func (s *Storage) State() *KV {
	if s == nil {
		return nil
	}
	return &KV{db: s.db}
}

// KV exposes the oracle_state table through the engine's storage interface.
// Values are rlp-encoded, matching the in-memory backend.
type KV struct {
	db *sql.DB
}

// KVPut rlp-encodes the value and upserts it under key.
func (k *KV) KVPut(key []byte, value interface{}) error {
	if k == nil || k.db == nil {
		return fmt.Errorf("storage not configured")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("encode state value: %w", err)
	}
	_, err = k.db.Exec(`
        INSERT INTO oracle_state(key, value) VALUES(?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value
    `, string(key), encoded)
	if err != nil {
		return fmt.Errorf("put state: %w", err)
	}
	return nil
}

// KVGet decodes the stored value into out. The boolean reports whether the
// key was present.
func (k *KV) KVGet(key []byte, out interface{}) (bool, error) {
	if k == nil || k.db == nil {
		return false, fmt.Errorf("storage not configured")
	}
	var encoded []byte
	err := k.db.QueryRow(`SELECT value FROM oracle_state WHERE key = ?`, string(key)).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get state: %w", err)
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, fmt.Errorf("decode state value: %w", err)
	}
	return true, nil
}

// AuditEntry records the outcome of one update attempt.
type AuditEntry struct {
	ID         string
	Asset      string
	Op         string
	Outcome    string
	Detail     string
	FeedTime   int64
	RecordedAt time.Time
}

// RecordUpdate appends an audit entry for an update attempt.
func (s *Storage) RecordUpdate(ctx context.Context, entry AuditEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	id := entry.ID
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	recorded := entry.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO update_audit(id, asset, op, outcome, detail, feed_time, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?)
    `, id, strings.ToLower(entry.Asset), entry.Op, entry.Outcome, entry.Detail, entry.FeedTime, recorded.UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// RecentUpdates returns the newest audit entries for an asset, most recent
// first.
func (s *Storage) RecentUpdates(ctx context.Context, asset string, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, asset, op, outcome, detail, feed_time, recorded_at
        FROM update_audit
        WHERE asset = ?
        ORDER BY recorded_at DESC, id DESC
        LIMIT ?
    `, strings.ToLower(asset), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	entries := make([]AuditEntry, 0, limit)
	for rows.Next() {
		var entry AuditEntry
		var recorded int64
		if err := rows.Scan(&entry.ID, &entry.Asset, &entry.Op, &entry.Outcome, &entry.Detail, &entry.FeedTime, &recorded); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.RecordedAt = time.Unix(recorded, 0).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// RecordControlEvent notes an emergency-stop transition with its actor. The
// actor is "volatility-gate" for internal trips.
func (s *Storage) RecordControlEvent(ctx context.Context, engaged bool, actor, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	flag := 0
	if engaged {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO control_events(id, engaged, actor, reason, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, uuid.NewString(), flag, strings.TrimSpace(actor), strings.TrimSpace(reason), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert control event: %w", err)
	}
	return nil
}

// ControlEvent is one recorded emergency-stop transition.
type ControlEvent struct {
	ID         string
	Engaged    bool
	Actor      string
	Reason     string
	RecordedAt time.Time
}

// ControlEvents returns recorded transitions, most recent first.
func (s *Storage) ControlEvents(ctx context.Context, limit int) ([]ControlEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, engaged, actor, reason, recorded_at
        FROM control_events
        ORDER BY recorded_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query control events: %w", err)
	}
	defer rows.Close()
	events := make([]ControlEvent, 0, limit)
	for rows.Next() {
		var event ControlEvent
		var engaged int
		var recorded int64
		if err := rows.Scan(&event.ID, &engaged, &event.Actor, &event.Reason, &recorded); err != nil {
			return nil, fmt.Errorf("scan control event: %w", err)
		}
		event.Engaged = engaged != 0
		event.RecordedAt = time.Unix(recorded, 0).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate control events: %w", err)
	}
	return events, nil
}
