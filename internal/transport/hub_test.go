// ABOUTME: Tests for the WebSocket hub against a real httptest server
// ABOUTME: Covers lifecycle events, utterances, targeted sends, RPC replay and replacement

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(HubConfig{}, nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, identity string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?identity=" + identity
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func nextEvent(t *testing.T, hub *Hub) Event {
	t.Helper()
	select {
	case ev := <-hub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) OutboundFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame OutboundFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestHub_ConnectAndDisconnectEvents(t *testing.T) {
	hub, srv := newTestHub(t)

	conn := dial(t, srv, "alice")
	ev := nextEvent(t, hub)
	assert.Equal(t, EventConnected, ev.Kind)
	assert.Equal(t, "alice", ev.Identity)
	assert.Equal(t, []string{"alice"}, hub.Participants())

	require.NoError(t, conn.Close())
	ev = nextEvent(t, hub)
	assert.Equal(t, EventDisconnected, ev.Kind)
	assert.Equal(t, "alice", ev.Identity)
	assert.Empty(t, hub.Participants())
}

func TestHub_UtteranceEvent(t *testing.T) {
	hub, srv := newTestHub(t)

	conn := dial(t, srv, "alice")
	nextEvent(t, hub)

	require.NoError(t, conn.WriteJSON(InboundFrame{Type: FrameUtterance, Text: "hello room"}))
	ev := nextEvent(t, hub)
	assert.Equal(t, EventUtterance, ev.Kind)
	assert.Equal(t, "alice", ev.Identity)
	assert.Equal(t, "hello room", ev.Text)
}

func TestHub_RejectsMissingIdentity(t *testing.T) {
	_, srv := newTestHub(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_AuthenticateHook(t *testing.T) {
	hub := NewHub(HubConfig{
		Authenticate: func(r *http.Request) (string, error) {
			if r.URL.Query().Get("token") != "good" {
				return "", errors.New("bad token")
			}
			return "carol", nil
		},
	}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(base+"/?token=bad", nil)
	require.Error(t, err)
	resp.Body.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(base+"/?token=good", nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	ev := nextEvent(t, hub)
	assert.Equal(t, "carol", ev.Identity)
}

func TestHub_SendTextTargeted(t *testing.T) {
	hub, srv := newTestHub(t)

	alice := dial(t, srv, "alice")
	nextEvent(t, hub)
	bob := dial(t, srv, "bob")
	nextEvent(t, hub)

	err := SendJSON(context.Background(), hub, TopicPrivate, NewPrivate("just for you"), "alice")
	require.NoError(t, err)

	frame := readFrame(t, alice)
	assert.Equal(t, FrameText, frame.Type)
	assert.Equal(t, TopicPrivate, frame.Topic)
	assert.JSONEq(t, `{"type":"private_message","message":"just for you"}`, frame.Payload)

	// bob receives nothing from the targeted send, only the later broadcast.
	require.NoError(t, SendJSON(context.Background(), hub, TopicBroadcast, NewBroadcast("all")))
	frame = readFrame(t, bob)
	assert.Equal(t, TopicBroadcast, frame.Topic)
	frame = readFrame(t, alice)
	assert.Equal(t, TopicBroadcast, frame.Topic)
}

func TestHub_SendTextMissingDestination(t *testing.T) {
	hub, _ := newTestHub(t)

	err := hub.SendText(context.Background(), TopicPrivate, []byte(`{}`), []string{"ghost"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestHub_SendAfterClose(t *testing.T) {
	hub, _ := newTestHub(t)
	require.NoError(t, hub.Close())

	err := hub.SendText(context.Background(), TopicBroadcast, []byte(`{}`), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHub_RPCResultAndReplay(t *testing.T) {
	hub, srv := newTestHub(t)

	var calls atomic.Int32
	hub.RegisterRPC("echo", func(_ context.Context, callerID, payload string) (string, error) {
		calls.Add(1)
		return callerID + ":" + payload, nil
	})

	conn := dial(t, srv, "alice")
	nextEvent(t, hub)

	req := InboundFrame{Type: FrameRPC, ID: "r1", Method: "echo", Payload: "hi"}
	require.NoError(t, conn.WriteJSON(req))
	frame := readFrame(t, conn)
	assert.Equal(t, FrameRPCResult, frame.Type)
	assert.Equal(t, "r1", frame.ID)
	assert.Equal(t, "alice:hi", frame.Payload)

	require.NoError(t, conn.WriteJSON(req))
	frame = readFrame(t, conn)
	assert.Equal(t, "alice:hi", frame.Payload)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHub_RPCUnknownMethod(t *testing.T) {
	hub, srv := newTestHub(t)

	conn := dial(t, srv, "alice")
	nextEvent(t, hub)

	require.NoError(t, conn.WriteJSON(InboundFrame{Type: FrameRPC, ID: "r9", Method: "nope"}))
	frame := readFrame(t, conn)
	assert.Equal(t, FrameRPCError, frame.Type)
	assert.Contains(t, frame.Error, "unknown rpc method")
}

func TestHub_InvokeDirect(t *testing.T) {
	hub, _ := newTestHub(t)
	hub.RegisterRPC("ping", func(context.Context, string, string) (string, error) {
		return "pong", nil
	})

	out, err := hub.Invoke("alice", "ping", "")
	require.NoError(t, err)
	assert.Equal(t, "pong", out)

	_, err = hub.Invoke("alice", "missing", "")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestHub_ReplacementIsSilent(t *testing.T) {
	hub, srv := newTestHub(t)

	first := dial(t, srv, "alice")
	nextEvent(t, hub)

	second := dial(t, srv, "alice")

	// The older connection is closed once the newer one is registered.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	select {
	case ev := <-hub.Events():
		t.Fatalf("unexpected event on replacement: %v %s", ev.Kind, ev.Identity)
	case <-time.After(150 * time.Millisecond):
	}
	assert.Equal(t, []string{"alice"}, hub.Participants())

	require.NoError(t, SendJSON(context.Background(), hub, TopicPopup, NewPopup("hi")))
	frame := readFrame(t, second)
	assert.Equal(t, TopicPopup, frame.Topic)
}

func TestTopicPayloads_WireNames(t *testing.T) {
	cases := []struct {
		name string
		v    any
		want string
	}{
		{"broadcast", NewBroadcast("m"), `{"type":"broadcast","message":"m"}`},
		{"private", NewPrivate("m"), `{"type":"private_message","message":"m"}`},
		{"poll", NewPollOpened("p1", "Q?", []string{"a", "b"}, 30),
			`{"type":"poll","id":"p1","question":"Q?","options":["a","b"],"timeout":30}`},
		{"poll ended", NewPollEnded(map[string]int{"yes": 2}), `{"type":"poll_ended","results":{"yes":2}}`},
		{"popup", NewPopup("m"), `{"type":"popup","message":"m"}`},
		{"game", NewGame("d"), `{"type":"game","description":"d"}`},
		{"image", NewImage("u", "s"), `{"type":"image","url":"u","subtitle":"s"}`},
		{"transcription", Transcription{Speaker: "alice", Text: "t", Timestamp: 5},
			`{"speaker":"alice","text":"t","timestamp":5}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.v)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(data))
		})
	}
}
