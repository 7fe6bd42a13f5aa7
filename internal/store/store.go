// ABOUTME: Ledger interface and event types for the room audit trail
// ABOUTME: NopLedger satisfies the interface when persistence is disabled

package store

import (
	"context"
	"errors"
	"time"
)

// ErrEventNotFound is returned when a requested event does not exist.
var ErrEventNotFound = errors.New("event not found")

// ErrInvalidCursor is returned when a page cursor cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// EventDirection indicates whether an event came from a participant or
// was published by the room.
type EventDirection string

const (
	DirectionInbound  EventDirection = "inbound"
	DirectionOutbound EventDirection = "outbound"
)

// EventType categorizes a ledger event.
type EventType string

const (
	EventJoined       EventType = "joined"
	EventLeft         EventType = "left"
	EventUtterance    EventType = "utterance"
	EventMessage      EventType = "message"
	EventPollResponse EventType = "poll_response"
	EventSummary      EventType = "summary"
	EventPublish      EventType = "publish"
)

// LedgerEvent is one immutable audit record.
type LedgerEvent struct {
	ID        string
	Room      string
	Direction EventDirection
	Type      EventType
	Actor     string // inbound: the participant; outbound: the recipient or "room"
	Topic     string // outbound topic; empty for inbound events
	Text      string
	Timestamp time.Time
}

// EventsParams selects a page of a room's events.
type EventsParams struct {
	Room   string     // required
	Since  *time.Time // optional: only events at or after this time
	Limit  int        // 1-500, defaults to 50
	Cursor string     // opaque cursor from a previous result
}

// EventsResult is one page of events, oldest first.
type EventsResult struct {
	Events     []*LedgerEvent
	NextCursor string
	HasMore    bool
}

// Ledger is the room's append-only audit trail.
type Ledger interface {
	// Record stores an event. ID and Timestamp are filled in when empty.
	Record(ctx context.Context, event *LedgerEvent) error
	// Recent returns up to limit newest events of room, oldest first.
	Recent(ctx context.Context, room string, limit int) ([]*LedgerEvent, error)
	Close() error
}

// NopLedger discards every event.
type NopLedger struct{}

func (NopLedger) Record(context.Context, *LedgerEvent) error { return nil }

func (NopLedger) Recent(context.Context, string, int) ([]*LedgerEvent, error) { return nil, nil }

func (NopLedger) Close() error { return nil }

// clampLimit applies the default and the cap.
func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 500 {
		return 500
	}
	return limit
}
