// ABOUTME: HTTP handlers for probes, participant tokens and the room event ledger
// ABOUTME: /health is liveness, /ready follows the room coordinator, /api/events pages the ledger

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-huddle/internal/auth"
	"github.com/2389/coven-huddle/internal/store"
)

// LedgerEventResponse is one event in the GET /api/events response.
type LedgerEventResponse struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Type      string `json:"type"`
	Actor     string `json:"actor"`
	Topic     string `json:"topic,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp string `json:"timestamp"`
}

// EventsResponse is the JSON response for GET /api/events.
type EventsResponse struct {
	Room       string                `json:"room"`
	Events     []LedgerEventResponse `json:"events"`
	NextCursor string                `json:"next_cursor,omitempty"`
	HasMore    bool                  `json:"has_more"`
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the room is running with a live coordinator.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.room.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("room not running"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d participants)", g.room.Sessions().Count())
}

// handleToken issues participant tokens for this room.
func (g *Gateway) handleToken(w http.ResponseWriter, r *http.Request) {
	h := auth.NewTokenHandler(g.verifier, g.config.Room.Name, g.clientURL(r), g.config.Auth.TokenTTL, g.logger)
	h.ServeHTTP(w, r)
}

// clientURL is the WebSocket address clients should dial.
func (g *Gateway) clientURL(r *http.Request) string {
	if g.publicURL != "" {
		return g.publicURL
	}
	scheme := "ws"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "wss"
	}
	return scheme + "://" + r.Host + "/ws"
}

// tailnetURL builds the client URL for a tailnet DNS name.
func tailnetURL(dnsName string) string {
	return "ws://" + strings.TrimSuffix(dnsName, ".") + "/ws"
}

// handleEvents handles GET /api/events for participants of the room.
// Query parameters: limit (1-500), cursor, since (RFC3339).
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	identity, err := auth.Authenticator(g.verifier, g.config.Room.Name)(r)
	if err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	pager, ok := g.ledger.(eventPager)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "ledger disabled")
		return
	}

	params := store.EventsParams{
		Room:   g.config.Room.Name,
		Cursor: r.URL.Query().Get("cursor"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		params.Limit = parsed
	}
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		params.Since = &since
	}

	result, err := pager.Events(r.Context(), params)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCursor) {
			g.sendJSONError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		g.logger.Error("failed to list ledger events", "identity", identity, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := EventsResponse{
		Room:       params.Room,
		Events:     make([]LedgerEventResponse, len(result.Events)),
		NextCursor: result.NextCursor,
		HasMore:    result.HasMore,
	}
	for i, evt := range result.Events {
		response.Events[i] = LedgerEventResponse{
			ID:        evt.ID,
			Direction: string(evt.Direction),
			Type:      string(evt.Type),
			Actor:     evt.Actor,
			Topic:     evt.Topic,
			Text:      evt.Text,
			Timestamp: evt.Timestamp.Format(time.RFC3339Nano),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
