// ABOUTME: Poll engine: create, record responses, and finalize exactly once
// ABOUTME: Finalize is guarded by compare-and-clear on the poll id under the engine mutex

package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/2389/coven-huddle/internal/metrics"
	"github.com/2389/coven-huddle/internal/transport"
)

// ErrPollActive indicates a poll is already open.
var ErrPollActive = errors.New("a poll is already active")

// ErrNoActivePoll indicates there is no open poll to answer.
var ErrNoActivePoll = errors.New("no active poll")

// ErrInvalidPoll indicates the poll definition failed validation.
var ErrInvalidPoll = errors.New("invalid poll")

// ErrClosed indicates the engine has been shut down.
var ErrClosed = errors.New("poll engine closed")

// Notifier is told about every finalized poll, after the results broadcast.
type Notifier interface {
	PollFinalized(ctx context.Context, result Result)
}

// Timer is a scheduled finalize that can be cancelled.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config bounds poll timeouts.
type Config struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// Engine owns the single open poll.
type Engine struct {
	cfg    Config
	sender transport.Sender
	roster func() []string
	logger *slog.Logger

	mu       sync.Mutex
	active   *Poll
	timer    Timer
	closed   bool
	notifier Notifier
	metrics  *metrics.Metrics

	// in-flight finalizations; Add only under mu while !closed
	wg sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc

	now       func() time.Time
	afterFunc AfterFunc
	newID     func() string
}

// NewEngine creates an engine. roster returns the identities currently
// connected and is snapshotted when a poll is created.
func NewEngine(cfg Config, sender transport.Sender, roster func() []string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 10 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		sender:    sender,
		roster:    roster,
		logger:    logger.With("component", "poll"),
		baseCtx:   ctx,
		cancel:    cancel,
		now:       time.Now,
		afterFunc: realAfterFunc,
		newID:     uuid.NewString,
	}
}

// SetNotifier installs the finalize callback.
func (e *Engine) SetNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifier = n
}

// SetMetrics installs metrics. Nil disables them.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// Create opens a poll. A zero timeout takes the configured default.
// Returns ErrPollActive while another poll is open.
func (e *Engine) Create(ctx context.Context, question string, options []string, timeout time.Duration) (*Poll, error) {
	question = strings.TrimSpace(question)
	options = lo.Map(options, func(o string, _ int) string { return strings.TrimSpace(o) })
	if timeout == 0 {
		timeout = e.cfg.DefaultTimeout
	}
	if err := e.validate(question, options, timeout); err != nil {
		return nil, err
	}

	var participants []string
	if e.roster != nil {
		participants = lo.Uniq(e.roster())
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if e.active != nil {
		id := e.active.ID
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPollActive, id)
	}

	now := e.now()
	p := &Poll{
		ID:                     e.newID(),
		Question:               question,
		Options:                options,
		Responses:              make(map[string]string),
		ParticipantsAtCreation: participants,
		CreatedAt:              now,
		Deadline:               now.Add(timeout),
	}
	e.active = p
	id := p.ID
	e.timer = e.afterFunc(timeout, func() { e.expire(id) })
	snapshot := p.Snapshot()
	e.mu.Unlock()

	e.logger.Info("poll created",
		"poll_id", id,
		"question", question,
		"options", options,
		"timeout", timeout,
		"participants", len(participants),
	)

	payload := transport.NewPollOpened(id, question, options, int(timeout/time.Second))
	if err := transport.SendJSON(ctx, e.sender, transport.TopicPoll, payload); err != nil {
		e.logger.Warn("broadcasting poll failed", "poll_id", id, "error", err)
		e.currentMetrics().RecordSendFailure(transport.TopicPoll)
	}

	return snapshot, nil
}

func (e *Engine) validate(question string, options []string, timeout time.Duration) error {
	if question == "" {
		return fmt.Errorf("%w: question is required", ErrInvalidPoll)
	}
	if len(options) < 2 {
		return fmt.Errorf("%w: at least two options are required", ErrInvalidPoll)
	}
	if lo.Contains(options, "") {
		return fmt.Errorf("%w: options must not be empty", ErrInvalidPoll)
	}
	if len(lo.Uniq(options)) != len(options) {
		return fmt.Errorf("%w: options must be distinct", ErrInvalidPoll)
	}
	if timeout < 0 || timeout > e.cfg.MaxTimeout {
		return fmt.Errorf("%w: timeout must be positive and at most %s", ErrInvalidPoll, e.cfg.MaxTimeout)
	}
	return nil
}

// RecordResponse stores or overwrites identity's answer. When the number of
// responders reaches the snapshot size the poll finalizes before returning.
func (e *Engine) RecordResponse(ctx context.Context, identity, answer string) error {
	e.mu.Lock()
	if e.active == nil {
		e.mu.Unlock()
		return ErrNoActivePoll
	}

	p := e.active
	p.Responses[identity] = answer
	e.logger.Info("poll response received", "poll_id", p.ID, "identity", identity, "answer", answer)

	var done *Poll
	if p.complete() && !e.closed {
		done = e.takeLocked(p.ID)
		e.wg.Add(1)
	}
	e.mu.Unlock()

	if done != nil {
		defer e.wg.Done()
		e.publish(ctx, done, ReasonComplete)
	}
	return nil
}

// expire is the deadline path.
func (e *Engine) expire(id string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	p := e.takeLocked(id)
	if p != nil {
		e.wg.Add(1)
	}
	e.mu.Unlock()

	if p == nil {
		return
	}
	defer e.wg.Done()
	e.publish(e.baseCtx, p, ReasonTimeout)
}

// takeLocked clears and returns the active poll if it still has the given
// id. Caller holds e.mu. Returns nil when the poll was already finalized.
func (e *Engine) takeLocked(id string) *Poll {
	if e.active == nil || e.active.ID != id {
		return nil
	}
	p := e.active
	e.active = nil
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	return p
}

// publish broadcasts and reports a poll already removed by takeLocked.
func (e *Engine) publish(ctx context.Context, p *Poll, reason Reason) {
	result := Result{
		PollID:    p.ID,
		Question:  p.Question,
		Options:   p.Options,
		Tally:     p.tally(),
		Responses: len(p.Responses),
		Reason:    reason,
	}

	e.logger.Info("poll finalized",
		"poll_id", p.ID,
		"reason", reason,
		"responses", result.Responses,
		"results", result.Tally,
	)

	if err := transport.SendJSON(ctx, e.sender, transport.TopicPollEnd, transport.NewPollEnded(result.Tally)); err != nil {
		e.logger.Warn("broadcasting poll results failed", "poll_id", p.ID, "error", err)
		e.currentMetrics().RecordSendFailure(transport.TopicPollEnd)
	}

	e.mu.Lock()
	notifier := e.notifier
	m := e.metrics
	e.mu.Unlock()

	m.RecordPoll(string(reason))
	if notifier != nil {
		notifier.PollFinalized(ctx, result)
	}
}

func (e *Engine) currentMetrics() *metrics.Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// Active returns a copy of the open poll, or nil.
func (e *Engine) Active() *Poll {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active.Snapshot()
}

// Close cancels the pending deadline, discards an open poll without
// finalizing it and waits for in-flight finalizations or ctx.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.active != nil {
		e.logger.Info("discarding open poll on shutdown", "poll_id", e.active.ID)
		e.active = nil
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	defer e.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
