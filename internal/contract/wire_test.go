// ABOUTME: Contract tests for the client wire surface: topics, payload shapes, RPC names and frames
// ABOUTME: Clients parse these exact strings, so any change here is a breaking change

package contract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/coven-huddle/internal/gateway"
	"github.com/2389/coven-huddle/internal/room"
	"github.com/2389/coven-huddle/internal/transport"
)

func encode(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

// TestTopicNames pins the outbound topic names clients subscribe to.
func TestTopicNames(t *testing.T) {
	expected := map[string]string{
		"transcription":         transport.TopicTranscription,
		"coordinator_broadcast": transport.TopicBroadcast,
		"coordinator_private":   transport.TopicPrivate,
		"coordinator_poll":      transport.TopicPoll,
		"coordinator_poll_end":  transport.TopicPollEnd,
		"coordinator_popup":     transport.TopicPopup,
		"coordinator_game":      transport.TopicGame,
		"coordinator_image":     transport.TopicImage,
	}
	for want, got := range expected {
		assert.Equal(t, want, got)
	}
}

// TestPayloadShapes pins the JSON body of every outbound topic.
func TestPayloadShapes(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{"transcription", transport.Transcription{Speaker: "alice", Text: "hi", Timestamp: 1700000000000},
			`{"speaker":"alice","text":"hi","timestamp":1700000000000}`},
		{"broadcast", transport.NewBroadcast("The door creaks."),
			`{"type":"broadcast","message":"The door creaks."}`},
		{"private", transport.NewPrivate("You hear a whisper."),
			`{"type":"private_message","message":"You hear a whisper."}`},
		{"poll", transport.NewPollOpened("p1", "Left or right?", []string{"left", "right"}, 30),
			`{"type":"poll","id":"p1","question":"Left or right?","options":["left","right"],"timeout":30}`},
		{"poll ended", transport.NewPollEnded(map[string]int{"left": 2, "right": 1}),
			`{"type":"poll_ended","results":{"left":2,"right":1}}`},
		{"popup", transport.NewPopup("Roll for initiative"),
			`{"type":"popup","message":"Roll for initiative"}`},
		{"game", transport.NewGame("Guess the riddle"),
			`{"type":"game","description":"Guess the riddle"}`},
		{"image", transport.NewImage("https://img.example/1.png", "A dragon"),
			`{"type":"image","url":"https://img.example/1.png","subtitle":"A dragon"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, encode(t, tt.v))
		})
	}
}

// TestRPCMethodNames pins the participant RPC methods.
func TestRPCMethodNames(t *testing.T) {
	assert.Equal(t, "summarize_meeting", room.MethodSummarize)
	assert.Equal(t, "add_message", room.MethodAddMessage)
	assert.Equal(t, "submit_poll_response", room.MethodPollResponse)
}

// TestFrameTypes pins the WebSocket envelope.
func TestFrameTypes(t *testing.T) {
	assert.Equal(t, "rpc", transport.FrameRPC)
	assert.Equal(t, "utterance", transport.FrameUtterance)
	assert.Equal(t, "text", transport.FrameText)
	assert.Equal(t, "rpc_result", transport.FrameRPCResult)
	assert.Equal(t, "rpc_error", transport.FrameRPCError)

	var in transport.InboundFrame
	require.NoError(t, json.Unmarshal([]byte(`{"type":"rpc","id":"7","method":"add_message","payload":"{}"}`), &in))
	assert.Equal(t, transport.InboundFrame{Type: "rpc", ID: "7", Method: "add_message", Payload: "{}"}, in)

	out := transport.OutboundFrame{Type: transport.FrameText, Topic: transport.TopicPopup, Payload: `{"type":"popup"}`}
	assert.JSONEq(t, `{"type":"text","topic":"coordinator_popup","payload":"{\"type\":\"popup\"}"}`, encode(t, out))
}

// TestHealthServiceSurface pins the gRPC health service orchestrators probe.
func TestHealthServiceSurface(t *testing.T) {
	assert.Equal(t, "grpc.health.v1.Health", healthpb.Health_ServiceDesc.ServiceName)
	assert.Equal(t, "huddle.Room", gateway.HealthService)

	methods := make(map[string]bool)
	for _, m := range healthpb.Health_ServiceDesc.Methods {
		methods[m.MethodName] = true
	}
	assert.True(t, methods["Check"], "Check should exist")
}
