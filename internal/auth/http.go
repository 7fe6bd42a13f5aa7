// ABOUTME: HTTP surface for participant tokens: the token endpoint and the upgrade authenticator
// ABOUTME: Error bodies are {"error": ...} JSON with the status codes clients expect

package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Authenticator returns a function resolving the participant identity of
// a WebSocket upgrade request. The token comes from the "token" query
// parameter or a bearer Authorization header and must be for room.
func Authenticator(v *JWTVerifier, room string) func(*http.Request) (string, error) {
	return func(r *http.Request) (string, error) {
		token := r.URL.Query().Get("token")
		if token == "" {
			var msg string
			token, msg = extractBearerToken(r.Header.Get("Authorization"))
			if msg != "" {
				return "", fmt.Errorf("%w: %s", ErrInvalidToken, msg)
			}
		}

		claims, err := v.Verify(token)
		if err != nil {
			return "", err
		}
		if room != "" && claims.Room != room {
			return "", fmt.Errorf("%w: %s", ErrWrongRoom, claims.Room)
		}
		return claims.Identity, nil
	}
}

// TokenHandler serves GET /api/token.
type TokenHandler struct {
	verifier *JWTVerifier
	room     string
	url      string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewTokenHandler creates the handler. A nil verifier answers every request
// with 500. When room is set, tokens are only issued for that room. url is
// returned to clients as the address to connect to.
func NewTokenHandler(v *JWTVerifier, room, url string, ttl time.Duration, logger *slog.Logger) *TokenHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &TokenHandler{
		verifier: v,
		room:     room,
		url:      url,
		ttl:      ttl,
		logger:   logger.With("component", "auth"),
	}
}

type tokenResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	room := r.URL.Query().Get("room")
	username := r.URL.Query().Get("username")
	if room == "" || username == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing room or username")
		return
	}
	if h.verifier == nil {
		writeJSONError(w, http.StatusInternalServerError, "Server misconfigured")
		return
	}
	if h.room != "" && room != h.room {
		writeJSONError(w, http.StatusNotFound, "Unknown room")
		return
	}

	token, err := h.verifier.Generate(username, room, h.ttl)
	if err != nil {
		h.logger.Error("generating participant token failed", "username", username, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Server misconfigured")
		return
	}

	h.logger.Info("issued participant token", "username", username, "room", room)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tokenResponse{Token: token, URL: h.url}); err != nil {
		h.logger.Warn("writing token response failed", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

