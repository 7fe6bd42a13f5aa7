// ABOUTME: Registers every room capability pack with a capability registry
// ABOUTME: Used at room startup before the coordinator begins its loop

package builtins

import (
	"log/slog"

	"github.com/2389/coven-huddle/internal/capability"
	"github.com/2389/coven-huddle/internal/transport"
)

// RegisterAll registers the messaging, poll and media packs.
func RegisterAll(registry *capability.Registry, sender transport.Sender, polls PollCreator, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "builtins")

	for _, pack := range []*capability.Pack{
		MessagingPack(sender, logger),
		PollPack(polls, logger),
		MediaPack(sender, logger),
	} {
		if err := registry.RegisterPack(pack); err != nil {
			return err
		}
	}
	return nil
}
