// ABOUTME: Messaging pack: private messages, broadcasts and popups to participants
// ABOUTME: Each capability publishes one typed payload on its coordinator topic

package builtins

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/coven-huddle/internal/capability"
	"github.com/2389/coven-huddle/internal/transport"
)

type privateMessageInput struct {
	Identity string `json:"identity" validate:"required" jsonschema:"description=Identity of the participant to message"`
	Message  string `json:"message" validate:"required" jsonschema:"description=Message text"`
}

type broadcastInput struct {
	Message string `json:"message" validate:"required" jsonschema:"description=Message text"`
}

type popupInput struct {
	Message           string `json:"message" validate:"required" jsonschema:"description=Popup text"`
	RecipientIdentity string `json:"recipient_identity,omitempty" jsonschema:"description=Show only to this participant; omit to show to everyone"`
}

// MessagingPack creates the messaging pack.
func MessagingPack(sender transport.Sender, logger *slog.Logger) *capability.Pack {
	m := &messagingHandlers{sender: sender, logger: logger}
	return &capability.Pack{
		ID: "builtin:messaging",
		Capabilities: []*capability.Capability{
			capability.Define("send_private_message", "Send a private message to a specific user", m.SendPrivateMessage),
			capability.Define("broadcast_message", "Broadcast a message to all users", m.BroadcastMessage),
			capability.Define("show_popup", "Show a popup message to all users or a specific user", m.ShowPopup),
		},
	}
}

type messagingHandlers struct {
	sender transport.Sender
	logger *slog.Logger
}

func (m *messagingHandlers) SendPrivateMessage(ctx context.Context, _ string, in privateMessageInput) (string, error) {
	m.logger.Info("sending private message", "identity", in.Identity, "message", in.Message)
	if err := transport.SendJSON(ctx, m.sender, transport.TopicPrivate, transport.NewPrivate(in.Message), in.Identity); err != nil {
		return "", fmt.Errorf("sending private message to %s: %w", in.Identity, err)
	}
	return fmt.Sprintf("Message sent to %s", in.Identity), nil
}

func (m *messagingHandlers) BroadcastMessage(ctx context.Context, _ string, in broadcastInput) (string, error) {
	m.logger.Info("broadcasting message", "message", in.Message)
	if err := transport.SendJSON(ctx, m.sender, transport.TopicBroadcast, transport.NewBroadcast(in.Message)); err != nil {
		return "", fmt.Errorf("broadcasting message: %w", err)
	}
	return "Message broadcasted", nil
}

func (m *messagingHandlers) ShowPopup(ctx context.Context, _ string, in popupInput) (string, error) {
	var destinations []string
	target := "all"
	if in.RecipientIdentity != "" {
		destinations = []string{in.RecipientIdentity}
		target = in.RecipientIdentity
	}
	m.logger.Info("showing popup", "target", target, "message", in.Message)

	if err := transport.SendJSON(ctx, m.sender, transport.TopicPopup, transport.NewPopup(in.Message), destinations...); err != nil {
		return "", fmt.Errorf("showing popup: %w", err)
	}
	return "Popup shown", nil
}
