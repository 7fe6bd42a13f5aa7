// ABOUTME: Participant RPC handlers: summarize_meeting, add_message, submit_poll_response
// ABOUTME: Responses are the JSON texts clients already parse; failures never surface as rpc errors

package room

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/2389/coven-huddle/internal/conversation"
	"github.com/2389/coven-huddle/internal/llm"
	"github.com/2389/coven-huddle/internal/poll"
	"github.com/2389/coven-huddle/internal/store"
	"github.com/2389/coven-huddle/internal/transport"
)

// RPC method names.
const (
	MethodSummarize    = "summarize_meeting"
	MethodAddMessage   = "add_message"
	MethodPollResponse = "submit_poll_response"
)

const (
	noConversationText = "No conversation has occurred yet."
	summaryPrompt      = "Compress older chat history into a short, faithful summary.\n" +
		"Focus on user goals, constraints, decisions, key facts/preferences/entities, and pending tasks.\n" +
		"Exclude chit-chat and greetings. Be concise."
	summaryTimeout = 60 * time.Second
	successJSON    = `{"success":true}`
)

// ErrRateLimited indicates a caller exceeded its RPC budget.
var ErrRateLimited = errors.New("rate limited")

// ValidationError is a client mistake reported back as {"error": text}.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var validate = validator.New()

type addMessageRequest struct {
	Message string `json:"message" validate:"required"`
}

type pollResponseRequest struct {
	Answer string `json:"answer" validate:"required"`
}

type rpcHandler func(ctx context.Context, caller, payload string) (string, error)

func (r *Room) registerRPCs() {
	r.transport.RegisterRPC(MethodSummarize, r.guard(MethodSummarize, r.handleSummarize))
	r.transport.RegisterRPC(MethodAddMessage, r.guard(MethodAddMessage, r.handleAddMessage))
	r.transport.RegisterRPC(MethodPollResponse, r.guard(MethodPollResponse, r.handlePollResponse))
	r.logger.Info("registered rpc methods", "methods", []string{MethodSummarize, MethodAddMessage, MethodPollResponse})
}

// guard applies the per-caller rate limit and turns handler errors into
// {"error": ...} responses.
func (r *Room) guard(method string, h rpcHandler) transport.RPCHandler {
	return func(ctx context.Context, caller, payload string) (string, error) {
		if !r.limiter.Allow(caller) {
			r.metrics.RecordRPC(method, "rate_limited")
			r.logger.Warn("rpc rate limited", "method", method, "caller", caller)
			return errorJSON(ErrRateLimited.Error()), nil
		}

		result, err := h(ctx, caller, payload)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				r.metrics.RecordRPC(method, "invalid")
				return errorJSON(verr.Message), nil
			}
			r.metrics.RecordRPC(method, "error")
			r.logger.Error("rpc failed", "method", method, "caller", caller, "error", err)
			return errorJSON(err.Error()), nil
		}
		r.metrics.RecordRPC(method, "ok")
		return result, nil
	}
}

// decodeRequest parses payload into v. An empty payload decodes as {}.
// requiredMsg is reported when validation fails.
func decodeRequest(payload string, v any, requiredMsg string) error {
	if len(bytes.TrimSpace([]byte(payload))) > 0 {
		if err := json.Unmarshal([]byte(payload), v); err != nil {
			return &ValidationError{Message: fmt.Sprintf("invalid payload: %v", err)}
		}
	}
	if err := validate.Struct(v); err != nil {
		return &ValidationError{Message: requiredMsg}
	}
	return nil
}

func (r *Room) handleSummarize(ctx context.Context, caller, _ string) (string, error) {
	r.logger.Info("received summarization request", "caller", caller)
	r.record(ctx, store.EventSummary, caller, "")

	view := r.store.CombinedView(nil)
	if len(view) == 0 {
		return noConversationText, nil
	}

	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	resp, err := llm.Complete(ctx, r.provider, llm.Request{
		Model: r.cfg.SummaryModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summaryPrompt},
			{Role: llm.RoleUser, Content: "Conversation:\n" + conversation.Transcript(view)},
		},
	})
	if err != nil {
		r.logger.Error("generating summary failed", "caller", caller, "error", err)
		return "Error generating summary: " + err.Error(), nil
	}

	r.logger.Info("summary generated", "caller", caller, "chars", len(resp.Content))
	return resp.Content, nil
}

func (r *Room) handleAddMessage(ctx context.Context, caller, payload string) (string, error) {
	var req addMessageRequest
	if err := decodeRequest(payload, &req, "Message is required"); err != nil {
		return "", err
	}

	chat := r.store.Ensure(caller)
	chat.Append(conversation.RoleUser, conversation.Attribute(caller, req.Message))
	r.publishTranscription(ctx, caller, req.Message)
	r.record(ctx, store.EventMessage, caller, req.Message)
	r.coordinator.OnActivity(caller, req.Message)

	r.logger.Info("added text message", "caller", caller, "context_messages", chat.Len())
	return successJSON, nil
}

func (r *Room) handlePollResponse(ctx context.Context, caller, payload string) (string, error) {
	var req pollResponseRequest
	if err := decodeRequest(payload, &req, "Answer is required"); err != nil {
		return "", err
	}

	err := r.polls.RecordResponse(ctx, caller, req.Answer)
	switch {
	case errors.Is(err, poll.ErrNoActivePoll):
		r.logger.Info("poll response without an active poll", "caller", caller)
	case err != nil:
		return "", fmt.Errorf("recording poll response: %w", err)
	default:
		r.record(ctx, store.EventPollResponse, caller, req.Answer)
	}
	return successJSON, nil
}

func errorJSON(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}
