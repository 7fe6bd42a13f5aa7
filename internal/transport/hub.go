// ABOUTME: WebSocket hub implementing Transport: one connection per participant identity
// ABOUTME: Fans out topic payloads with drop-on-full buffers and serves inbound RPC frames

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// HubConfig tunes connection handling. Zero values take defaults.
type HubConfig struct {
	SendBuffer     int
	EventBuffer    int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	MaxFrameBytes  int64
	ReplayTTL      time.Duration
	ReplayCapacity int

	// Authenticate resolves the participant identity of an upgrade request.
	// When nil the identity is taken from the "identity" query parameter.
	Authenticate func(r *http.Request) (string, error)
}

func (c *HubConfig) applyDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 64 * 1024
	}
	if c.ReplayTTL <= 0 {
		c.ReplayTTL = 5 * time.Minute
	}
	if c.ReplayCapacity <= 0 {
		c.ReplayCapacity = 1024
	}
}

// Hub is a WebSocket Transport. Each identity holds at most one connection;
// a newer connection for the same identity replaces the older one without
// emitting a disconnect.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]*peer

	rpcMu    sync.RWMutex
	handlers map[string]RPCHandler

	events chan Event
	replay *ReplayCache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// peer is one live WebSocket connection.
type peer struct {
	identity  string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.ws.Close()
	})
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(cfg HubConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:   logger.With("component", "transport"),
		conns:    make(map[string]*peer),
		handlers: make(map[string]RPCHandler),
		events:   make(chan Event, cfg.EventBuffer),
		replay:   NewReplayCache(cfg.ReplayTTL, cfg.ReplayCapacity),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Events returns the inbound event stream. The channel is never closed;
// consumers stop on their own context.
func (h *Hub) Events() <-chan Event {
	return h.events
}

// RegisterRPC installs a handler for method name, replacing any previous one.
func (h *Hub) RegisterRPC(name string, handler RPCHandler) {
	h.rpcMu.Lock()
	defer h.rpcMu.Unlock()
	h.handlers[name] = handler
}

// Participants returns the identities with a live connection, sorted.
func (h *Hub) Participants() []string {
	h.mu.RLock()
	ids := lo.Keys(h.conns)
	h.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	identity, err := h.identify(r)
	if err != nil {
		h.logger.Warn("rejected websocket connection", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "identity", identity, "error", err)
		return
	}

	p := &peer{
		identity: identity,
		ws:       ws,
		send:     make(chan []byte, h.cfg.SendBuffer),
		done:     make(chan struct{}),
	}
	h.attach(p)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		h.writePump(p)
	}()
	go func() {
		defer h.wg.Done()
		h.readPump(p)
	}()
}

func (h *Hub) identify(r *http.Request) (string, error) {
	if h.cfg.Authenticate != nil {
		return h.cfg.Authenticate(r)
	}
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		return "", errors.New("identity is required")
	}
	return identity, nil
}

// attach registers p, replacing any older connection for the same identity.
func (h *Hub) attach(p *peer) {
	h.mu.Lock()
	old, replaced := h.conns[p.identity]
	h.conns[p.identity] = p
	total := len(h.conns)
	h.mu.Unlock()

	if replaced {
		old.close()
		h.logger.Info("participant connection replaced", "identity", p.identity)
		return
	}

	h.logger.Info("=== PARTICIPANT CONNECTED ===", "identity", p.identity, "total_participants", total)
	h.emit(Event{Kind: EventConnected, Identity: p.identity})
}

// detach removes p if it is still the registered connection for its identity.
func (h *Hub) detach(p *peer) {
	p.close()

	h.mu.Lock()
	current, ok := h.conns[p.identity]
	if ok && current == p {
		delete(h.conns, p.identity)
	}
	total := len(h.conns)
	h.mu.Unlock()

	if !ok || current != p {
		return
	}
	h.logger.Info("=== PARTICIPANT DISCONNECTED ===", "identity", p.identity, "total_participants", total)
	h.emit(Event{Kind: EventDisconnected, Identity: p.identity})
}

func (h *Hub) emit(ev Event) {
	select {
	case h.events <- ev:
	case <-h.ctx.Done():
	}
}

func (h *Hub) readPump(p *peer) {
	defer h.detach(p)

	pongWait := h.cfg.PingInterval * 2
	p.ws.SetReadLimit(h.cfg.MaxFrameBytes)
	_ = p.ws.SetReadDeadline(time.Now().Add(pongWait))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read ended", "identity", p.identity, "error", err)
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Warn("malformed frame", "identity", p.identity, "error", err)
			continue
		}

		switch frame.Type {
		case FrameUtterance:
			if frame.Text == "" {
				continue
			}
			h.emit(Event{Kind: EventUtterance, Identity: p.identity, Text: frame.Text})
		case FrameRPC:
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.serveRPC(p, frame)
			}()
		default:
			h.logger.Debug("ignoring frame", "identity", p.identity, "type", frame.Type)
		}
	}
}

func (h *Hub) writePump(p *peer) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := p.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("websocket write failed", "identity", p.identity, "error", err)
				p.close()
				return
			}
		case <-ticker.C:
			_ = p.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := p.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

// serveRPC runs one RPC frame and writes the result back to the caller.
func (h *Hub) serveRPC(p *peer, frame InboundFrame) {
	key := replayKey(p.identity, frame.ID)
	if frame.ID != "" {
		if cached, ok := h.replay.Lookup(key); ok {
			h.logger.Debug("replaying cached rpc response", "identity", p.identity, "request_id", frame.ID)
			h.enqueue(p, cached)
			return
		}
	}

	out := OutboundFrame{Type: FrameRPCResult, ID: frame.ID}
	result, err := h.invoke(p.identity, frame.Method, frame.Payload)
	if err != nil {
		out = OutboundFrame{Type: FrameRPCError, ID: frame.ID, Error: err.Error()}
	} else {
		out.Payload = result
	}

	data, err := json.Marshal(out)
	if err != nil {
		h.logger.Error("encoding rpc response", "method", frame.Method, "error", err)
		return
	}
	if frame.ID != "" {
		h.replay.Store(key, data)
	}
	h.enqueue(p, data)
}

// Invoke calls a registered RPC handler directly, as if callerID had sent it.
func (h *Hub) Invoke(callerID, method, payload string) (string, error) {
	return h.invoke(callerID, method, payload)
}

func (h *Hub) invoke(callerID, method, payload string) (string, error) {
	h.rpcMu.RLock()
	handler, ok := h.handlers[method]
	h.rpcMu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	return handler(h.ctx, callerID, payload)
}

// SendText delivers payload on topic to destinations, or to everyone when
// destinations is empty. Slow connections drop frames rather than block.
// Returns ErrNotConnected (wrapped) if any named destination is offline.
func (h *Hub) SendText(ctx context.Context, topic string, payload []byte, destinations []string) error {
	if h.ctx.Err() != nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(OutboundFrame{Type: FrameText, Topic: topic, Payload: string(payload)})
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	h.mu.RLock()
	var targets []*peer
	var missing []string
	if len(destinations) == 0 {
		targets = lo.Values(h.conns)
	} else {
		for _, id := range destinations {
			if p, ok := h.conns[id]; ok {
				targets = append(targets, p)
			} else {
				missing = append(missing, id)
			}
		}
	}
	h.mu.RUnlock()

	for _, p := range targets {
		h.enqueue(p, data)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrNotConnected, missing)
	}
	return nil
}

func (h *Hub) enqueue(p *peer, data []byte) {
	select {
	case p.send <- data:
	case <-p.done:
	default:
		h.logger.Warn("dropped frame for slow participant", "identity", p.identity)
	}
}

// Close disconnects every participant and waits for connection goroutines.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()

		h.mu.Lock()
		peers := lo.Values(h.conns)
		h.conns = make(map[string]*peer)
		h.mu.Unlock()

		for _, p := range peers {
			_ = p.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "room closing"),
				time.Now().Add(time.Second))
			p.close()
		}

		h.wg.Wait()
		h.replay.Close()
		h.logger.Debug("transport closed")
	})
	return nil
}
