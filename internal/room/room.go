// ABOUTME: Room assembly and event loop: transport events to sessions, turns to the coordinator
// ABOUTME: Shutdown stops components in dependency order with one bounded context

package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-huddle/internal/builtins"
	"github.com/2389/coven-huddle/internal/capability"
	"github.com/2389/coven-huddle/internal/conversation"
	"github.com/2389/coven-huddle/internal/coordinator"
	"github.com/2389/coven-huddle/internal/llm"
	"github.com/2389/coven-huddle/internal/metrics"
	"github.com/2389/coven-huddle/internal/poll"
	"github.com/2389/coven-huddle/internal/session"
	"github.com/2389/coven-huddle/internal/store"
	"github.com/2389/coven-huddle/internal/transport"
)

// Config tunes a room.
type Config struct {
	Name         string
	Coordinator  coordinator.Config
	Poll         poll.Config
	SummaryModel string
	DrainTimeout time.Duration
	RPCRate      float64
	RPCBurst     int
}

// Deps are the room's external collaborators. Ledger, Metrics, Speaker and
// Logger may be nil.
type Deps struct {
	Transport transport.Transport
	Provider  llm.Provider
	Ledger    store.Ledger
	Metrics   *metrics.Metrics
	Speaker   coordinator.Speaker
	Logger    *slog.Logger
}

// Room is one running huddle.
type Room struct {
	cfg       Config
	transport transport.Transport
	provider  llm.Provider
	ledger    store.Ledger
	metrics   *metrics.Metrics
	logger    *slog.Logger

	sender       transport.Sender
	store        *conversation.Store
	polls        *poll.Engine
	capabilities *capability.Registry
	coordinator  *coordinator.Coordinator
	sessions     *session.Manager
	limiter      *limiterPool
	now          func() time.Time

	mu      sync.Mutex
	running bool
}

// New assembles a room and registers its RPC methods on the transport.
func New(cfg Config, deps Deps) (*Room, error) {
	if deps.Transport == nil {
		return nil, errors.New("room requires a transport")
	}
	if deps.Provider == nil {
		return nil, errors.New("room requires a language model provider")
	}
	if cfg.Name == "" {
		cfg.Name = "huddle"
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = "gpt-4o-mini"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("room", cfg.Name)
	ledger := deps.Ledger
	if ledger == nil {
		ledger = store.NopLedger{}
	}

	r := &Room{
		cfg:       cfg,
		transport: deps.Transport,
		provider:  deps.Provider,
		ledger:    ledger,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "room"),
		store:     conversation.NewStore(logger),
		limiter:   newLimiterPool(cfg.RPCRate, cfg.RPCBurst),
		now:       time.Now,
	}
	r.sender = &ledgerSender{
		next:   deps.Transport,
		ledger: ledger,
		room:   cfg.Name,
		logger: r.logger,
	}

	r.polls = poll.NewEngine(cfg.Poll, r.sender, deps.Transport.Participants, logger)
	r.polls.SetMetrics(deps.Metrics)

	r.capabilities = capability.NewRegistry(logger)
	if err := builtins.RegisterAll(r.capabilities, r.sender, r.polls, logger); err != nil {
		return nil, fmt.Errorf("registering builtin capabilities: %w", err)
	}

	r.coordinator = coordinator.New(cfg.Coordinator, coordinator.Deps{
		Store:        r.store,
		Provider:     deps.Provider,
		Capabilities: r.capabilities,
		Sender:       r.sender,
		Speaker:      deps.Speaker,
		Metrics:      deps.Metrics,
		Logger:       logger,
	})
	r.polls.SetNotifier(r.coordinator)

	r.sessions = session.NewManager(&session.TranscriberFactory{
		Hook:   r.onTurn,
		Logger: logger,
	}, r.store, cfg.DrainTimeout, deps.Metrics, logger)

	r.registerRPCs()
	return r, nil
}

// Store returns the room's conversation store.
func (r *Room) Store() *conversation.Store { return r.store }

// Sessions returns the session manager.
func (r *Room) Sessions() *session.Manager { return r.sessions }

// Coordinator returns the activity coordinator.
func (r *Room) Coordinator() *coordinator.Coordinator { return r.coordinator }

// Polls returns the poll engine.
func (r *Room) Polls() *poll.Engine { return r.polls }

// Capabilities returns the capability registry.
func (r *Room) Capabilities() *capability.Registry { return r.capabilities }

// Ready reports whether the room is processing events with a live coordinator.
func (r *Room) Ready() bool {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	return running && r.coordinator.Running()
}

// Run starts the coordinator, adopts participants already connected and
// processes transport events until ctx is cancelled.
func (r *Room) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("room already running")
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if err := r.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}
	r.logger.Info("=== ROOM STARTED ===",
		"capabilities", r.capabilities.Len(),
		"silence_threshold", r.cfg.Coordinator.SilenceThreshold,
	)

	for _, identity := range r.transport.Participants() {
		r.handleEvent(ctx, transport.Event{Kind: transport.EventConnected, Identity: identity})
	}

	events := r.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			r.handleEvent(ctx, ev)
		}
	}
}

func (r *Room) handleEvent(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		r.record(ctx, store.EventJoined, ev.Identity, "")
		r.sessions.OnConnected(ev.Identity)
	case transport.EventDisconnected:
		r.sessions.OnDisconnected(ev.Identity)
		r.record(ctx, store.EventLeft, ev.Identity, "")
	case transport.EventUtterance:
		if err := r.sessions.Deliver(ctx, ev.Identity, ev.Text); err != nil {
			r.logger.Warn("dropping utterance", "identity", ev.Identity, "error", err)
		}
	default:
		r.logger.Debug("ignoring transport event", "kind", ev.Kind)
	}
}

// onTurn handles one finalized utterance that the session already logged.
func (r *Room) onTurn(ctx context.Context, identity, text string) session.TurnResult {
	r.logger.Info("participant said", "identity", identity, "text", text)
	r.publishTranscription(ctx, identity, text)
	r.record(ctx, store.EventUtterance, identity, text)
	r.coordinator.OnActivity(identity, text)
	return session.TurnHandled
}

func (r *Room) publishTranscription(ctx context.Context, identity, text string) {
	payload := transport.Transcription{
		Speaker:   identity,
		Text:      text,
		Timestamp: r.now().UnixMilli(),
	}
	if err := transport.SendJSON(ctx, r.sender, transport.TopicTranscription, payload); err != nil {
		r.logger.Warn("publishing transcription failed", "identity", identity, "error", err)
	}
}

func (r *Room) record(ctx context.Context, kind store.EventType, actor, text string) {
	err := r.ledger.Record(context.WithoutCancel(ctx), &store.LedgerEvent{
		Room:      r.cfg.Name,
		Direction: store.DirectionInbound,
		Type:      kind,
		Actor:     actor,
		Text:      text,
	})
	if err != nil {
		r.logger.Warn("recording ledger event failed", "type", kind, "actor", actor, "error", err)
	}
}

// Shutdown stops the room: coordinator, poll engine, sessions, transport,
// then ledger. Every step runs even if an earlier one fails.
func (r *Room) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down room")
	var errs []error

	if err := r.coordinator.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping coordinator: %w", err))
	}
	if err := r.polls.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing poll engine: %w", err))
	}
	if err := r.sessions.CloseAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing sessions: %w", err))
	}
	if err := r.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing transport: %w", err))
	}
	if err := r.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing ledger: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		r.logger.Warn("room shutdown incomplete", "error", err)
	} else {
		r.logger.Info("room shut down")
	}
	return err
}
