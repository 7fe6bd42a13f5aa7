// ABOUTME: Transcriber is the default session: it logs utterances and hands them to a turn hook
// ABOUTME: Utterances are processed one at a time in arrival order on a worker goroutine

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/coven-huddle/internal/conversation"
)

// TurnResult reports what a TurnHook did with an utterance.
type TurnResult int

const (
	// TurnContinue lets the session's own responder answer.
	TurnContinue TurnResult = iota
	// TurnHandled suppresses the session's own response.
	TurnHandled
)

// TurnHook is called once per finalized utterance after it is logged.
type TurnHook func(ctx context.Context, identity, text string) TurnResult

// Responder answers an utterance the hook did not handle.
type Responder interface {
	Respond(ctx context.Context, identity, text string) error
}

// Transcriber appends each finalized utterance to the participant's
// ChatContext as a user message and passes it to the hook.
type Transcriber struct {
	identity string
	chat     *conversation.ChatContext
	hook     TurnHook
	fallback Responder
	logger   *slog.Logger

	mu        sync.Mutex
	accepting bool
	started   bool
	queue     chan string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTranscriber creates a transcriber. fallback may be nil.
func NewTranscriber(identity string, chat *conversation.ChatContext, hook TurnHook, fallback Responder, queueSize int, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 32
	}
	return &Transcriber{
		identity: identity,
		chat:     chat,
		hook:     hook,
		fallback: fallback,
		logger:   logger.With("component", "transcriber", "identity", identity),
		queue:    make(chan string, queueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the worker. The worker outlives ctx; it stops on Drain
// or Close.
func (t *Transcriber) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}
	t.started = true
	t.accepting = true
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go t.work()
	return nil
}

func (t *Transcriber) work() {
	defer close(t.done)
	for {
		select {
		case text, ok := <-t.queue:
			if !ok {
				return
			}
			t.handle(text)
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *Transcriber) handle(text string) {
	t.chat.Append(conversation.RoleUser, text)

	result := TurnContinue
	if t.hook != nil {
		result = t.hook(t.ctx, t.identity, text)
	}
	if result == TurnHandled || t.fallback == nil {
		return
	}
	if err := t.fallback.Respond(t.ctx, t.identity, text); err != nil {
		t.logger.Warn("fallback response failed", "error", err)
	}
}

// Deliver queues an utterance. Blocks while the queue is full.
func (t *Transcriber) Deliver(ctx context.Context, text string) error {
	t.mu.Lock()
	if !t.accepting {
		t.mu.Unlock()
		return ErrSessionClosed
	}
	// Holding mu keeps Drain from closing the queue under the send.
	defer t.mu.Unlock()

	select {
	case t.queue <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return ErrSessionClosed
	}
}

// Drain stops accepting utterances and waits for queued ones.
func (t *Transcriber) Drain(ctx context.Context) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil
	}
	if t.accepting {
		t.accepting = false
		close(t.queue)
	}
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker without waiting for queued utterances.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	t.accepting = false
	started := t.started
	t.mu.Unlock()

	if started {
		t.cancel()
		<-t.done
	}
	return nil
}

// TranscriberFactory builds a Transcriber per participant.
type TranscriberFactory struct {
	Hook      TurnHook
	Fallback  Responder
	QueueSize int
	Logger    *slog.Logger
}

// NewSession implements Factory.
func (f *TranscriberFactory) NewSession(_ context.Context, identity string, chat *conversation.ChatContext) (Session, error) {
	return NewTranscriber(identity, chat, f.Hook, f.Fallback, f.QueueSize, f.Logger), nil
}
