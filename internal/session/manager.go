// ABOUTME: Session manager: idempotent create on connect, drain and close on disconnect
// ABOUTME: Lifecycles for the same identity are chained so sessions never overlap

package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/coven-huddle/internal/conversation"
	"github.com/2389/coven-huddle/internal/metrics"
)

// lifecycle is one connect-to-closed run for an identity.
type lifecycle struct {
	identity string
	state    State
	session  Session
	removed  bool
	pending  []string // utterances received while Starting

	cancel context.CancelFunc
	prev   <-chan struct{}
	done   chan struct{}
}

// maxPending bounds the utterances held for a session that is still starting.
const maxPending = 64

// Manager maps participant identities to sessions.
type Manager struct {
	factory      Factory
	store        *conversation.Store
	metrics      *metrics.Metrics
	logger       *slog.Logger
	drainTimeout time.Duration

	mu      sync.Mutex
	current map[string]*lifecycle     // connected identity -> lifecycle
	open    map[*lifecycle]struct{}   // every lifecycle not yet Closed
	tails   map[string]<-chan struct{} // identity -> done of its newest lifecycle
	closing bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a manager. Pass nil logger for default and nil
// metrics to disable them.
func NewManager(factory Factory, store *conversation.Store, drainTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		factory:      factory,
		store:        store,
		metrics:      m,
		logger:       logger.With("component", "sessions"),
		drainTimeout: drainTimeout,
		current:      make(map[string]*lifecycle),
		open:         make(map[*lifecycle]struct{}),
		tails:        make(map[string]<-chan struct{}),
		baseCtx:      ctx,
		cancel:       cancel,
	}
}

// OnConnected starts creating a session for identity. A no-op while a
// session exists or is being created for it.
func (m *Manager) OnConnected(identity string) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	if l, exists := m.current[identity]; exists {
		m.mu.Unlock()
		m.logger.Debug("session already exists", "identity", identity, "state", l.state)
		return
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	l := &lifecycle{
		identity: identity,
		state:    StateStarting,
		cancel:   cancel,
		prev:     m.tails[identity],
		done:     make(chan struct{}),
	}
	m.current[identity] = l
	m.open[l] = struct{}{}
	m.tails[identity] = l.done
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("starting session", "identity", identity)
	go m.create(ctx, l)
}

// create builds and starts the session for l.
func (m *Manager) create(ctx context.Context, l *lifecycle) {
	defer m.wg.Done()

	if l.prev != nil {
		select {
		case <-l.prev:
		case <-ctx.Done():
		}
	}
	if ctx.Err() != nil {
		m.abandon(l, nil, "cancelled")
		return
	}

	chat := m.store.Ensure(l.identity)
	sess, err := m.factory.NewSession(ctx, l.identity, chat)
	if err != nil {
		m.logger.Error("creating session failed", "identity", l.identity, "error", err)
		m.abandon(l, nil, "failed")
		return
	}
	if err := sess.Start(ctx); err != nil {
		outcome := "failed"
		if ctx.Err() != nil {
			outcome = "cancelled"
		} else {
			m.logger.Error("starting session failed", "identity", l.identity, "error", err)
		}
		m.abandon(l, sess, outcome)
		return
	}

	// Hand over what arrived during start. l stays Starting until the
	// backlog is empty so later utterances cannot overtake it.
	for {
		m.mu.Lock()
		if l.removed || ctx.Err() != nil {
			dropped := len(l.pending)
			l.pending = nil
			m.mu.Unlock()
			m.logger.Info("participant left during session start", "identity", l.identity, "utterances_dropped", dropped)
			m.abandon(l, sess, "cancelled")
			return
		}
		if len(l.pending) == 0 {
			l.session = sess
			l.state = StateActive
			m.mu.Unlock()
			break
		}
		backlog := l.pending
		l.pending = nil
		m.mu.Unlock()

		for _, text := range backlog {
			if err := sess.Deliver(ctx, text); err != nil {
				m.logger.Warn("delivering buffered utterance failed", "identity", l.identity, "error", err)
			}
		}
	}

	m.metrics.RecordSessionStarted()
	m.logger.Info("=== SESSION ACTIVE ===", "identity", l.identity)
}

// abandon tears down a lifecycle that never became Active.
func (m *Manager) abandon(l *lifecycle, sess Session, outcome string) {
	if sess != nil {
		m.shutdown(l.identity, sess)
	}

	m.mu.Lock()
	if cur, connected := m.current[l.identity]; !connected || cur == l {
		// Nobody newer owns this identity's conversation log.
		m.store.DropParticipant(l.identity)
	}
	m.mu.Unlock()

	m.metrics.RecordSessionOutcome(outcome)
	m.finish(l)
}

// OnDisconnected removes identity's session and its conversation log at
// once, then drains and closes the session in the background.
func (m *Manager) OnDisconnected(identity string) {
	m.mu.Lock()
	l, exists := m.current[identity]
	if !exists {
		m.mu.Unlock()
		return
	}
	delete(m.current, identity)
	l.removed = true
	dropped := m.store.DropParticipant(identity)

	switch l.state {
	case StateStarting:
		l.cancel()
		m.mu.Unlock()
		m.logger.Info("cancelled session creation", "identity", identity, "messages_dropped", dropped)
		return
	case StateActive:
		l.state = StateDraining
		m.wg.Add(1)
		m.mu.Unlock()
		m.logger.Info("closing session", "identity", identity, "messages_dropped", dropped)
		go m.close(l)
	default:
		m.mu.Unlock()
	}
}

// close drains and closes an Active lifecycle's session.
func (m *Manager) close(l *lifecycle) {
	defer m.wg.Done()
	m.shutdown(l.identity, l.session)
	m.metrics.RecordSessionClosed()
	m.finish(l)
}

// shutdown drains with a bounded wait and closes. Failures are logged.
func (m *Manager) shutdown(identity string, sess Session) {
	ctx, cancel := context.WithTimeout(context.Background(), m.drainTimeout)
	defer cancel()

	if err := sess.Drain(ctx); err != nil {
		m.logger.Warn("draining session failed", "identity", identity, "error", err)
	}
	if err := sess.Close(); err != nil {
		m.logger.Warn("closing session failed", "identity", identity, "error", err)
	}
}

// finish marks l Closed and releases any lifecycle waiting on it.
func (m *Manager) finish(l *lifecycle) {
	m.mu.Lock()
	l.state = StateClosed
	delete(m.open, l)
	if m.current[l.identity] == l {
		delete(m.current, l.identity)
	}
	if m.tails[l.identity] == (<-chan struct{})(l.done) {
		delete(m.tails, l.identity)
	}
	m.mu.Unlock()

	l.cancel()
	close(l.done)
	m.logger.Debug("session closed", "identity", l.identity)
}

// Deliver routes a finalized utterance to identity's session. Utterances
// for a session that is still starting are held and delivered in order
// once it is up.
func (m *Manager) Deliver(ctx context.Context, identity, text string) error {
	m.mu.Lock()
	l, ok := m.current[identity]
	if !ok {
		m.mu.Unlock()
		return ErrNoSession
	}
	switch l.state {
	case StateStarting:
		defer m.mu.Unlock()
		if len(l.pending) >= maxPending {
			return ErrBacklogFull
		}
		l.pending = append(l.pending, text)
		return nil
	case StateActive:
		sess := l.session
		m.mu.Unlock()
		return sess.Deliver(ctx, text)
	default:
		m.mu.Unlock()
		return ErrNoSession
	}
}

// Get returns identity's session if it is Active.
func (m *Manager) Get(identity string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.current[identity]
	if !ok || l.state != StateActive {
		return nil, false
	}
	return l.session, true
}

// State returns the state of identity's current lifecycle, or StateClosed.
func (m *Manager) State(identity string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.current[identity]; ok {
		return l.state
	}
	return StateClosed
}

// Identities returns connected identities, sorted.
func (m *Manager) Identities() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.current))
	for id := range m.current {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	slices.Sort(ids)
	return ids
}

// Count returns the number of Active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, l := range m.current {
		if l.state == StateActive {
			n++
		}
	}
	return n
}

// Pending returns the number of lifecycles not yet Closed, including
// ones still draining after a disconnect.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// CloseAll cancels in-flight creations, drains and closes every active
// session and waits for all of them or ctx. Individual failures are logged.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	var draining int
	for id, l := range m.current {
		delete(m.current, id)
		l.removed = true
		switch l.state {
		case StateStarting:
			l.cancel()
		case StateActive:
			l.state = StateDraining
			draining++
			m.wg.Add(1)
			go m.close(l)
		}
	}
	m.mu.Unlock()

	m.logger.Info("closing all sessions", "draining", draining)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		m.logger.Info("all sessions closed")
		return nil
	case <-ctx.Done():
		m.cancel()
		m.logger.Warn("timed out closing sessions", "remaining", m.Pending())
		return ctx.Err()
	}
}
