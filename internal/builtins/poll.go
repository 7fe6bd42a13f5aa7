// ABOUTME: Poll pack: lets the coordinator open a timed multiple-choice poll
// ABOUTME: Delegates to the poll engine, which broadcasts and finalizes the poll

package builtins

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-huddle/internal/capability"
	"github.com/2389/coven-huddle/internal/poll"
)

// PollCreator opens polls.
type PollCreator interface {
	Create(ctx context.Context, question string, options []string, timeout time.Duration) (*poll.Poll, error)
}

type createPollInput struct {
	Question string   `json:"question" validate:"required" jsonschema:"description=The question to ask"`
	Options  []string `json:"options" validate:"min=2,dive,required" jsonschema:"description=Answer choices"`
	Timeout  int      `json:"timeout,omitempty" validate:"gte=0" jsonschema:"description=Seconds before the poll closes (default 30)"`
}

// PollPack creates the poll pack.
func PollPack(polls PollCreator, logger *slog.Logger) *capability.Pack {
	h := &pollHandlers{polls: polls, logger: logger}
	return &capability.Pack{
		ID: "builtin:poll",
		Capabilities: []*capability.Capability{
			capability.Define("create_poll", "Create a poll for users to vote on", h.CreatePoll),
		},
	}
}

type pollHandlers struct {
	polls  PollCreator
	logger *slog.Logger
}

func (h *pollHandlers) CreatePoll(ctx context.Context, _ string, in createPollInput) (string, error) {
	h.logger.Info("creating poll", "question", in.Question, "options", in.Options, "timeout_seconds", in.Timeout)

	p, err := h.polls.Create(ctx, in.Question, in.Options, time.Duration(in.Timeout)*time.Second)
	if err != nil {
		return "", fmt.Errorf("creating poll: %w", err)
	}
	return fmt.Sprintf("Poll created with ID %s. Waiting for responses.", p.ID), nil
}
