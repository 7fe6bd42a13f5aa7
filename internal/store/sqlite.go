// ABOUTME: SQLite implementation of the Ledger using modernc.org/sqlite
// ABOUTME: Creates the schema on open and pages events with an opaque cursor

package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Ledger on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens the ledger at path, creating parent directories and
// the schema as needed. Pass nil logger for default.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps :memory: databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite ledger initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS ledger_events (
			seq       INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id  TEXT NOT NULL UNIQUE,
			room      TEXT NOT NULL,
			direction TEXT NOT NULL,
			type      TEXT NOT NULL,
			actor     TEXT NOT NULL,
			topic     TEXT NOT NULL DEFAULT '',
			text      TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL,

			CHECK (direction IN ('inbound', 'outbound'))
		);

		CREATE INDEX IF NOT EXISTS idx_ledger_room ON ledger_events(room, seq);
		CREATE INDEX IF NOT EXISTS idx_ledger_actor ON ledger_events(actor);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists an event.
func (s *SQLiteStore) Record(ctx context.Context, event *LedgerEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_events (event_id, room, direction, type, actor, topic, text, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Room,
		string(event.Direction),
		string(event.Type),
		event.Actor,
		event.Topic,
		event.Text,
		event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("recorded ledger event", "event_id", event.ID, "room", event.Room, "type", event.Type)
	return nil
}

// GetEvent returns a single event by id.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*LedgerEvent, error) {
	events, _, err := s.query(ctx, `
		SELECT seq, event_id, room, direction, type, actor, topic, text, timestamp
		FROM ledger_events WHERE event_id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrEventNotFound
	}
	return events[0], nil
}

// Recent returns up to limit newest events of room, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, room string, limit int) ([]*LedgerEvent, error) {
	events, _, err := s.query(ctx, `
		SELECT seq, event_id, room, direction, type, actor, topic, text, timestamp
		FROM ledger_events WHERE room = ?
		ORDER BY seq DESC LIMIT ?`, room, clampLimit(limit, 100))
	if err != nil {
		return nil, err
	}
	slices.Reverse(events)
	return events, nil
}

// Events pages through a room's history, oldest first.
func (s *SQLiteStore) Events(ctx context.Context, p EventsParams) (*EventsResult, error) {
	if p.Room == "" {
		return nil, errors.New("room required")
	}
	limit := clampLimit(p.Limit, 50)

	var after int64
	if p.Cursor != "" {
		var err error
		if after, err = decodeCursor(p.Cursor); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
		}
	}

	query := `
		SELECT seq, event_id, room, direction, type, actor, topic, text, timestamp
		FROM ledger_events WHERE room = ? AND seq > ?`
	args := []any{p.Room, after}
	if p.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, p.Since.UTC().Format(time.RFC3339Nano))
	}
	// Fetch one extra row to learn whether another page exists.
	query += " ORDER BY seq ASC LIMIT ?"
	args = append(args, limit+1)

	events, seqs, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	result := &EventsResult{Events: events}
	if len(events) > limit {
		result.Events = events[:limit]
		result.HasMore = true
		result.NextCursor = encodeCursor(seqs[limit-1])
	}
	return result, nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*LedgerEvent, []int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*LedgerEvent
	var seqs []int64
	for rows.Next() {
		event := &LedgerEvent{}
		var seq int64
		var direction, eventType, ts string
		if err := rows.Scan(&seq, &event.ID, &event.Room, &direction, &eventType,
			&event.Actor, &event.Topic, &event.Text, &ts); err != nil {
			return nil, nil, fmt.Errorf("scanning event row: %w", err)
		}

		event.Direction = EventDirection(direction)
		event.Type = EventType(eventType)
		event.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		events = append(events, event)
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, seqs, nil
}

// encodeCursor makes an opaque cursor from a row sequence number.
func encodeCursor(seq int64) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.FormatInt(seq, 10)))
}

func decodeCursor(cursor string) (int64, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor encoding: %w", err)
	}
	seq, err := strconv.ParseInt(string(decoded), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor value: %w", err)
	}
	return seq, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite ledger")
	return s.db.Close()
}
