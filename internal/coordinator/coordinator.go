// ABOUTME: Activity coordinator: tick loop, silence detection and model-driven turns
// ABOUTME: Dispatches model tool calls through the capability registry and broadcasts replies

package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-huddle/internal/capability"
	"github.com/2389/coven-huddle/internal/conversation"
	"github.com/2389/coven-huddle/internal/llm"
	"github.com/2389/coven-huddle/internal/metrics"
	"github.com/2389/coven-huddle/internal/poll"
	"github.com/2389/coven-huddle/internal/transport"
)

// CallerID identifies the coordinator when it invokes capabilities.
const CallerID = "coordinator"

// ErrGeneration wraps failures of the model call.
var ErrGeneration = errors.New("generation failed")

// ErrAlreadyRunning indicates Start was called twice.
var ErrAlreadyRunning = errors.New("coordinator already running")

// Speaker voices coordinator replies. Optional.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Config tunes the loop.
type Config struct {
	TickInterval     time.Duration
	SilenceThreshold time.Duration
	Instructions     string
	Model            string
	MaxToolRounds    int
}

// Deps are the coordinator's collaborators. Speaker and Metrics may be nil.
type Deps struct {
	Store        *conversation.Store
	Provider     llm.Provider
	Capabilities *capability.Registry
	Sender       transport.Sender
	Speaker      Speaker
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Coordinator drives silence-triggered turns for one room.
type Coordinator struct {
	cfg   Config
	deps  Deps
	state *State
	chat  *conversation.ChatContext

	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	turns atomic.Int64
}

// New creates a coordinator.
func New(cfg Config, deps Deps) *Coordinator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = 5 * time.Second
	}
	if cfg.MaxToolRounds < 0 {
		cfg.MaxToolRounds = 0
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		cfg:    cfg,
		deps:   deps,
		chat:   conversation.NewChatContext(""),
		logger: logger.With("component", "coordinator"),
		now:    time.Now,
	}
	c.state = NewState(c.now())
	return c
}

// State returns the shared state object.
func (c *Coordinator) State() *State {
	return c.state
}

// Context returns the coordinator's own running dialogue: its replies and
// poll summaries. The instructions are not part of it.
func (c *Coordinator) Context() *conversation.ChatContext {
	return c.chat
}

// Turns returns the number of replies broadcast so far.
func (c *Coordinator) Turns() int {
	return int(c.turns.Load())
}

// Running reports whether the loop is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done != nil
}

// Start launches the tick loop. The silence clock starts now.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.state.Touch(c.now())

	go func() {
		defer close(done)
		c.Run(loopCtx)
	}()

	c.logger.Info("coordinator loop started",
		"tick_interval", c.cfg.TickInterval,
		"silence_threshold", c.cfg.SilenceThreshold,
	)
	return nil
}

// Stop cancels the loop, abandoning any in-flight generation, and waits
// for it to exit or for ctx.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		c.logger.Info("coordinator loop stopped", "turns", c.Turns())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run ticks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick evaluates the state once and runs a turn when silence was exceeded.
// Reports whether a turn ran.
func (c *Coordinator) Tick(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if !c.state.TryBegin(c.now(), c.cfg.SilenceThreshold) {
		return false
	}
	c.logger.Info("silence detected, triggering coordinator")
	c.turn(ctx)
	return true
}

// OnActivity records participant activity and ends any cooldown.
func (c *Coordinator) OnActivity(identity, text string) {
	c.state.Touch(c.now())
	c.logger.Debug("activity", "identity", identity, "chars", len(text))
}

// PollFinalized appends the poll summary and makes the next tick react.
func (c *Coordinator) PollFinalized(_ context.Context, result poll.Result) {
	summary := result.Summary()
	c.chat.AppendAt(conversation.RoleSystem, summary, c.now())
	c.state.Nudge()
	c.logger.Info("poll result recorded", "poll_id", result.PollID, "summary", summary)
}

func (c *Coordinator) turn(ctx context.Context) {
	start := c.now()
	outcome := "ok"
	defer func() {
		c.state.Finish(c.now())
		c.deps.Metrics.RecordTurn(outcome, c.now().Sub(start))
	}()

	text, err := c.generate(ctx)
	switch {
	case ctx.Err() != nil:
		outcome = "cancelled"
		return
	case err != nil:
		outcome = "error"
		c.logger.Error("coordinator error", "error", err)
		return
	case text == "":
		outcome = "empty"
		c.logger.Info("coordinator produced no reply")
		return
	}

	if err := transport.SendJSON(ctx, c.deps.Sender, transport.TopicBroadcast, transport.NewBroadcast(text)); err != nil {
		c.logger.Warn("broadcasting coordinator reply failed", "error", err)
		c.deps.Metrics.RecordSendFailure(transport.TopicBroadcast)
	}
	if c.deps.Speaker != nil {
		if err := c.deps.Speaker.Speak(ctx, text); err != nil {
			c.logger.Warn("speaking coordinator reply failed", "error", err)
		}
	}

	c.chat.AppendAt(conversation.RoleAssistant, text, c.now())
	c.turns.Add(1)
	c.logger.Info("coordinator response", "text", text)
}

// generate runs the model, executing tool calls for up to MaxToolRounds
// rounds, and returns the final reply as plain text.
func (c *Coordinator) generate(ctx context.Context) (string, error) {
	messages := c.buildMessages()
	tools := c.tools()

	for round := 0; ; round++ {
		req := llm.Request{Model: c.cfg.Model, Messages: messages, Tools: tools}
		if round >= c.cfg.MaxToolRounds {
			req.Tools = nil
		}

		resp, err := llm.Complete(ctx, c.deps.Provider, req)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrGeneration, err)
		}
		if len(resp.ToolCalls) == 0 || req.Tools == nil {
			return llm.PlainText(resp.Content), nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    c.invoke(ctx, call),
				ToolCallID: call.ID,
			})
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
}

func (c *Coordinator) invoke(ctx context.Context, call llm.ToolCall) string {
	c.logger.Info("model invoked capability", "name", call.Name, "call_id", call.ID)
	out, err := c.deps.Capabilities.Invoke(ctx, CallerID, call.Name, json.RawMessage(call.Arguments))
	if err != nil {
		return "error: " + err.Error()
	}
	return out
}

func (c *Coordinator) tools() []llm.Tool {
	if c.deps.Capabilities == nil {
		return nil
	}
	caps := c.deps.Capabilities.List()
	if len(caps) == 0 {
		return nil
	}
	tools := make([]llm.Tool, 0, len(caps))
	for _, cp := range caps {
		tools = append(tools, llm.Tool{Name: cp.Name, Description: cp.Description, Parameters: cp.InputSchema})
	}
	return tools
}

// buildMessages maps the instructions and the chronological combined view
// to model messages.
func (c *Coordinator) buildMessages() []llm.Message {
	view := c.deps.Store.CombinedView(c.chat)
	messages := make([]llm.Message, 0, len(view)+1)
	if c.cfg.Instructions != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: c.cfg.Instructions})
	}
	for _, m := range view {
		messages = append(messages, llm.Message{
			Role:    llm.Role(m.Role),
			Content: m.Content,
			Name:    m.ParticipantID,
		})
	}
	return messages
}
