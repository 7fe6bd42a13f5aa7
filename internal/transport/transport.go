// ABOUTME: Transport interfaces consumed by the room: outbound text, RPC registration, events
// ABOUTME: Decouples the coordination core from the concrete WebSocket implementation

package transport

//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=../mocks/mock_transport.go -package=mocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotConnected indicates a targeted destination has no live connection.
var ErrNotConnected = errors.New("participant not connected")

// ErrClosed indicates the transport has been shut down.
var ErrClosed = errors.New("transport closed")

// ErrUnknownMethod indicates no RPC handler is registered under the name.
var ErrUnknownMethod = errors.New("unknown rpc method")

// EventKind identifies an inbound transport event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventUtterance
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventUtterance:
		return "utterance"
	default:
		return "unknown"
	}
}

// Event is a participant lifecycle or speech boundary event.
// Text is set only for EventUtterance (a finalized utterance).
type Event struct {
	Kind     EventKind
	Identity string
	Text     string
}

// Sender delivers a text payload on a topic. An empty destinations slice
// broadcasts to every connected participant.
type Sender interface {
	SendText(ctx context.Context, topic string, payload []byte, destinations []string) error
}

// RPCHandler serves one inbound request/response call.
type RPCHandler func(ctx context.Context, callerID string, payload string) (string, error)

// Transport is the full participant-facing surface the room consumes.
type Transport interface {
	Sender
	RegisterRPC(name string, handler RPCHandler)
	Events() <-chan Event
	Participants() []string
	Close() error
}

// SendJSON marshals v and sends it on topic.
func SendJSON(ctx context.Context, s Sender, topic string, v any, destinations ...string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", topic, err)
	}
	return s.SendText(ctx, topic, data, destinations)
}
