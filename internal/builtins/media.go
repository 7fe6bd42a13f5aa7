// ABOUTME: Media pack: interactive games and images shown to every participant
// ABOUTME: Images use a placeholder service URL built from the prompt

package builtins

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/2389/coven-huddle/internal/capability"
	"github.com/2389/coven-huddle/internal/transport"
)

const placeholderImageURL = "https://placehold.co/600x400?text="

type startGameInput struct {
	Description string `json:"description" validate:"required" jsonschema:"description=What the game is and how to play"`
}

type generateImageInput struct {
	Prompt   string `json:"prompt" validate:"required" jsonschema:"description=What the image shows"`
	Subtitle string `json:"subtitle" validate:"required" jsonschema:"description=Caption shown under the image"`
}

// MediaPack creates the media pack.
func MediaPack(sender transport.Sender, logger *slog.Logger) *capability.Pack {
	h := &mediaHandlers{sender: sender, logger: logger}
	return &capability.Pack{
		ID: "builtin:media",
		Capabilities: []*capability.Capability{
			capability.Define("start_game", "Start an interactive game", h.StartGame),
			capability.Define("generate_image", "Generate an image and show it to everyone", h.GenerateImage),
		},
	}
}

type mediaHandlers struct {
	sender transport.Sender
	logger *slog.Logger
}

func (h *mediaHandlers) StartGame(ctx context.Context, _ string, in startGameInput) (string, error) {
	h.logger.Info("starting game", "description", in.Description)
	if err := transport.SendJSON(ctx, h.sender, transport.TopicGame, transport.NewGame(in.Description)); err != nil {
		return "", fmt.Errorf("starting game: %w", err)
	}
	return "Game started", nil
}

func (h *mediaHandlers) GenerateImage(ctx context.Context, _ string, in generateImageInput) (string, error) {
	h.logger.Info("generating image", "prompt", in.Prompt)
	imageURL := placeholderImageURL + url.QueryEscape(in.Prompt)

	if err := transport.SendJSON(ctx, h.sender, transport.TopicImage, transport.NewImage(imageURL, in.Subtitle)); err != nil {
		return "", fmt.Errorf("showing image: %w", err)
	}
	return "Image generated and shown", nil
}
