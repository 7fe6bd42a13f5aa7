// ABOUTME: Sender decorator that records every room publication in the ledger
// ABOUTME: The transport's result is returned unchanged; ledger failures are only logged

package room

import (
	"context"
	"log/slog"

	"github.com/2389/coven-huddle/internal/store"
	"github.com/2389/coven-huddle/internal/transport"
)

// ledgerSender records outbound payloads after handing them to the transport.
type ledgerSender struct {
	next   transport.Sender
	ledger store.Ledger
	room   string
	logger *slog.Logger
}

func (s *ledgerSender) SendText(ctx context.Context, topic string, payload []byte, destinations []string) error {
	err := s.next.SendText(ctx, topic, payload, destinations)

	// Transcriptions are already in the ledger as inbound events.
	if topic == transport.TopicTranscription {
		return err
	}
	actor := "room"
	if len(destinations) == 1 {
		actor = destinations[0]
	}
	if lerr := s.ledger.Record(context.WithoutCancel(ctx), &store.LedgerEvent{
		Room:      s.room,
		Direction: store.DirectionOutbound,
		Type:      store.EventPublish,
		Actor:     actor,
		Topic:     topic,
		Text:      string(payload),
	}); lerr != nil {
		s.logger.Warn("recording publication failed", "topic", topic, "error", lerr)
	}
	return err
}
