// ABOUTME: Tests for the ledger events endpoint
// ABOUTME: Uses an in-memory SQLite ledger and participant bearer tokens

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-huddle/internal/store"
)

func newEventsGateway(t *testing.T) (*Gateway, *store.SQLiteStore) {
	t.Helper()
	ledger, err := store.NewSQLiteStore(":memory:", testLogger())
	require.NoError(t, err)

	gw := newTestGateway(t, testConfig(t), WithLedger(ledger))
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw, ledger
}

func bearer(t *testing.T, gw *Gateway, identity, room string) string {
	t.Helper()
	token, err := gw.verifier.Generate(identity, room, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func eventsRequest(gw *Gateway, query, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/events"+query, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	gw.handleEvents(rec, req)
	return rec
}

func TestHandleEvents_Pages(t *testing.T) {
	gw, ledger := newEventsGateway(t)
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, ledger.Record(ctx, &store.LedgerEvent{
			Room:      "dnd",
			Direction: store.DirectionInbound,
			Type:      store.EventUtterance,
			Actor:     "alice",
			Text:      fmt.Sprintf("line %d", i),
		}))
	}
	require.NoError(t, ledger.Record(ctx, &store.LedgerEvent{
		Room: "other", Direction: store.DirectionInbound, Type: store.EventJoined, Actor: "mallory",
	}))
	auth := bearer(t, gw, "bob", "dnd")

	rec := eventsRequest(gw, "?limit=3", auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, "dnd", page.Room)
	require.Len(t, page.Events, 3)
	assert.Equal(t, "line 0", page.Events[0].Text)
	assert.Equal(t, "utterance", page.Events[0].Type)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextCursor)

	rec = eventsRequest(gw, "?limit=3&cursor="+page.NextCursor, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var next EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	require.Len(t, next.Events, 2)
	assert.Equal(t, "line 4", next.Events[1].Text)
	assert.False(t, next.HasMore)
}

func TestHandleEvents_Errors(t *testing.T) {
	gw, _ := newEventsGateway(t)
	auth := bearer(t, gw, "bob", "dnd")

	tests := []struct {
		name   string
		method string
		query  string
		auth   string
		status int
	}{
		{"wrong method", http.MethodPost, "", auth, http.StatusMethodNotAllowed},
		{"missing token", http.MethodGet, "", "", http.StatusUnauthorized},
		{"other room token", http.MethodGet, "", bearer(t, gw, "bob", "elsewhere"), http.StatusUnauthorized},
		{"bad limit", http.MethodGet, "?limit=zero", auth, http.StatusBadRequest},
		{"bad since", http.MethodGet, "?since=yesterday", auth, http.StatusBadRequest},
		{"bad cursor", http.MethodGet, "?cursor=%25%25", auth, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/events"+tt.query, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			gw.handleEvents(rec, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleEvents_LedgerDisabled(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))
	defer gw.Shutdown(context.Background())

	rec := eventsRequest(gw, "", bearer(t, gw, "bob", "dnd"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"ledger disabled"}`, rec.Body.String())
}
