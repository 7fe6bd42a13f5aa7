// ABOUTME: Tests for the coordinator loop driven by a fake clock and a scripted model
// ABOUTME: Covers the silence scenario, cooldown, failures, tool rounds, polls and cancellation

package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/2389/coven-huddle/internal/capability"
	"github.com/2389/coven-huddle/internal/conversation"
	"github.com/2389/coven-huddle/internal/llm"
	"github.com/2389/coven-huddle/internal/metrics"
	"github.com/2389/coven-huddle/internal/mocks"
	"github.com/2389/coven-huddle/internal/poll"
	"github.com/2389/coven-huddle/internal/transport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSpeaker struct {
	mu    sync.Mutex
	lines []string
}

func (s *fakeSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
	return nil
}

type harness struct {
	c        *Coordinator
	clock    *fakeClock
	store    *conversation.Store
	provider *llm.ScriptedProvider
	sender   *mocks.MockSender
	caps     *capability.Registry
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, steps ...llm.Scripted) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		clock:    &fakeClock{now: t0},
		store:    conversation.NewStore(nil),
		provider: llm.NewScriptedProvider(steps...),
		sender:   mocks.NewMockSender(ctrl),
		caps:     capability.NewRegistry(nil),
		metrics:  metrics.New("test"),
	}
	h.c = New(Config{
		SilenceThreshold: 5 * time.Second,
		Instructions:     "You are a Dungeon Master.",
		Model:            "gpt-4o",
		MaxToolRounds:    2,
	}, Deps{
		Store:        h.store,
		Provider:     h.provider,
		Capabilities: h.caps,
		Sender:       h.sender,
		Metrics:      h.metrics,
	})
	h.c.now = h.clock.Now
	h.c.state = NewState(h.clock.Now())
	return h
}

func (h *harness) expectBroadcast(t *testing.T, message string) {
	t.Helper()
	want, err := json.Marshal(transport.NewBroadcast(message))
	require.NoError(t, err)
	h.sender.EXPECT().SendText(gomock.Any(), transport.TopicBroadcast, want, gomock.Nil()).Return(nil)
}

func (h *harness) say(identity, text string) {
	h.store.AppendAt(identity, conversation.RoleUser, text, h.clock.Now())
	h.c.OnActivity(identity, text)
}

func TestScenario_SingleMessageThenSilence(t *testing.T) {
	h := newHarness(t, llm.Text("Welcome, ", "adventurer."))
	h.expectBroadcast(t, "Welcome, adventurer.")
	ctx := context.Background()

	h.say("alice", "hello")

	var firedAt []time.Duration
	for i := 1; i <= 40; i++ {
		h.clock.Advance(500 * time.Millisecond)
		if h.c.Tick(ctx) {
			firedAt = append(firedAt, time.Duration(i)*500*time.Millisecond)
		}
	}

	assert.Equal(t, []time.Duration{5500 * time.Millisecond}, firedAt)
	assert.Len(t, h.provider.Requests(), 1)
	assert.Equal(t, 1, h.c.Turns())
	assert.Equal(t, PhaseWaitingForUser, h.c.State().Phase())

	last, ok := h.c.Context().Last()
	require.True(t, ok)
	assert.Equal(t, conversation.RoleAssistant, last.Role)
	assert.Equal(t, "Welcome, adventurer.", last.Content)
}

func TestTurn_RequestCarriesCombinedViewAndTools(t *testing.T) {
	h := newHarness(t, llm.Text("ok"))
	h.expectBroadcast(t, "ok")
	require.NoError(t, h.caps.Register(&capability.Capability{
		Name:        "broadcast_message",
		Description: "Broadcast a message to all users",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(context.Context, string, json.RawMessage) (string, error) {
			return "Message broadcasted", nil
		},
	}))

	h.say("bob", "I open the door")
	h.clock.Advance(time.Second)
	h.say("alice", "I draw my sword")
	h.clock.Advance(6 * time.Second)
	require.True(t, h.c.Tick(context.Background()))

	reqs := h.provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-4o", reqs[0].Model)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "broadcast_message", reqs[0].Tools[0].Name)

	msgs := reqs[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "You are a Dungeon Master.", msgs[0].Content)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "I open the door", Name: "bob"}, msgs[1])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "I draw my sword", Name: "alice"}, msgs[2])
}

func TestTurn_CooldownUntilActivity(t *testing.T) {
	h := newHarness(t, llm.Text("first"), llm.Text("second"))
	h.expectBroadcast(t, "first")
	h.expectBroadcast(t, "second")
	ctx := context.Background()

	h.clock.Advance(6 * time.Second)
	require.True(t, h.c.Tick(ctx))

	// Long silence after our own reply does not retrigger.
	for range 120 {
		h.clock.Advance(500 * time.Millisecond)
		require.False(t, h.c.Tick(ctx))
	}

	h.say("alice", "what now?")
	h.clock.Advance(5 * time.Second)
	assert.False(t, h.c.Tick(ctx))
	h.clock.Advance(500 * time.Millisecond)
	assert.True(t, h.c.Tick(ctx))
	assert.Equal(t, 2, h.c.Turns())
}

func TestTurn_GenerationFailureStillCoolsDown(t *testing.T) {
	h := newHarness(t, llm.Scripted{Err: errors.New("upstream 500")})
	ctx := context.Background()
	before := h.c.Context().Len()

	h.clock.Advance(6 * time.Second)
	require.True(t, h.c.Tick(ctx))

	assert.Equal(t, PhaseWaitingForUser, h.c.State().Phase())
	assert.Equal(t, h.clock.Now(), h.c.State().LastActivity())
	assert.Equal(t, before, h.c.Context().Len())
	assert.Equal(t, 0, h.c.Turns())
}

func TestTurn_MidStreamFailureBroadcastsNothing(t *testing.T) {
	h := newHarness(t, llm.Scripted{Chunks: []llm.Chunk{{Content: "The dra"}}, StreamErr: errors.New("reset")})

	h.clock.Advance(6 * time.Second)
	require.True(t, h.c.Tick(context.Background()))
	assert.Equal(t, 0, h.c.Turns())
}

func TestTurn_EmptyResponseIsNoop(t *testing.T) {
	h := newHarness(t, llm.Text(""))

	h.clock.Advance(6 * time.Second)
	require.True(t, h.c.Tick(context.Background()))
	assert.Equal(t, 0, h.c.Turns())
	assert.Equal(t, PhaseWaitingForUser, h.c.State().Phase())
}

func TestTurn_MarkdownRenderedAndSpoken(t *testing.T) {
	h := newHarness(t, llm.Text("**Beware** the _dark_."))
	speaker := &fakeSpeaker{}
	h.c.deps.Speaker = speaker
	h.expectBroadcast(t, "Beware the dark.")

	h.clock.Advance(6 * time.Second)
	require.True(t, h.c.Tick(context.Background()))
	assert.Equal(t, []string{"Beware the dark."}, speaker.lines)
}

func TestTurn_ToolRounds(t *testing.T) {
	var got []string
	h := newHarness(t,
		llm.Scripted{Chunks: []llm.Chunk{{ToolCalls: []llm.ToolCallDelta{
			{Index: 0, ID: "call_1", Name: "roll_dice", Arguments: `{"sides":20}`},
			{Index: 1, ID: "call_2", Name: "missing_tool", Arguments: `{}`},
		}}}},
		llm.Text("You rolled a 17."),
	)
	require.NoError(t, h.caps.Register(&capability.Capability{
		Name:        "roll_dice",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(_ context.Context, caller string, input json.RawMessage) (string, error) {
			got = append(got, caller+" "+string(input))
			return "17", nil
		},
	}))
	h.expectBroadcast(t, "You rolled a 17.")

	h.clock.Advance(6 * time.Second)
	require.True(t, h.c.Tick(context.Background()))

	assert.Equal(t, []string{`coordinator {"sides":20}`}, got)

	reqs := h.provider.Requests()
	require.Len(t, reqs, 2)
	followUp := reqs[1].Messages
	require.GreaterOrEqual(t, len(followUp), 3)
	tail := followUp[len(followUp)-3:]
	assert.Equal(t, llm.RoleAssistant, tail[0].Role)
	assert.Len(t, tail[0].ToolCalls, 2)
	assert.Equal(t, llm.Message{Role: llm.RoleTool, Content: "17", ToolCallID: "call_1"}, tail[1])
	assert.Equal(t, llm.RoleTool, tail[2].Role)
	assert.Contains(t, tail[2].Content, "error: capability not found")
}

func TestTurn_ToolRoundsBounded(t *testing.T) {
	call := llm.Scripted{Chunks: []llm.Chunk{{ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: "c", Name: "noop"}}}}}
	h := newHarness(t, call, call, llm.Text("done"))
	require.NoError(t, h.caps.Register(&capability.Capability{
		Name: "noop",
		Handler: func(context.Context, string, json.RawMessage) (string, error) {
			return "ok", nil
		},
	}))
	h.expectBroadcast(t, "done")

	h.clock.Advance(6 * time.Second)
	require.True(t, h.c.Tick(context.Background()))

	reqs := h.provider.Requests()
	require.Len(t, reqs, 3)
	assert.NotEmpty(t, reqs[0].Tools)
	assert.NotEmpty(t, reqs[1].Tools)
	assert.Empty(t, reqs[2].Tools, "final round offers no tools")
}

func TestPollFinalized_TriggersImmediateTurn(t *testing.T) {
	h := newHarness(t, llm.Text("first"), llm.Text("The party chose yes."))
	h.expectBroadcast(t, "first")
	h.expectBroadcast(t, "The party chose yes.")
	ctx := context.Background()

	h.clock.Advance(6 * time.Second)
	require.True(t, h.c.Tick(ctx))
	require.Equal(t, PhaseWaitingForUser, h.c.State().Phase())

	h.c.PollFinalized(ctx, poll.Result{PollID: "p1", Question: "Continue?", Tally: map[string]int{"yes": 2}})
	last, _ := h.c.Context().Last()
	assert.Equal(t, conversation.RoleSystem, last.Role)
	assert.Equal(t, `Poll results for 'Continue?': {"yes":2}`, last.Content)

	h.clock.Advance(500 * time.Millisecond)
	require.True(t, h.c.Tick(ctx))
	assert.Equal(t, 2, h.c.Turns())
}

func TestPollFinalizedDuringTurn_TriggersNextTurn(t *testing.T) {
	h := newHarness(t,
		llm.Scripted{Chunks: []llm.Chunk{{ToolCalls: []llm.ToolCallDelta{
			{Index: 0, ID: "call_1", Name: "close_vote", Arguments: `{}`},
		}}}},
		llm.Text("Let us see how you voted."),
		llm.Text("The party chose yes."),
	)
	require.NoError(t, h.caps.Register(&capability.Capability{
		Name:        "close_vote",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, _ string, _ json.RawMessage) (string, error) {
			h.c.PollFinalized(ctx, poll.Result{PollID: "p1", Question: "Continue?", Tally: map[string]int{"yes": 1}})
			return "closed", nil
		},
	}))
	h.expectBroadcast(t, "Let us see how you voted.")
	h.expectBroadcast(t, "The party chose yes.")
	ctx := context.Background()

	h.clock.Advance(6 * time.Second)
	require.True(t, h.c.Tick(ctx))
	assert.Equal(t, PhaseIdle, h.c.State().Phase(), "poll result arrived mid-turn")

	h.clock.Advance(500 * time.Millisecond)
	require.True(t, h.c.Tick(ctx))
	assert.Equal(t, 2, h.c.Turns())
	assert.Equal(t, PhaseWaitingForUser, h.c.State().Phase())
}

func TestActivityEndsCooldown(t *testing.T) {
	h := newHarness(t, llm.Text("reply"))
	h.expectBroadcast(t, "reply")

	h.clock.Advance(6 * time.Second)
	require.True(t, h.c.Tick(context.Background()))

	h.say("alice", "hi")
	assert.Equal(t, PhaseIdle, h.c.State().Phase())
}

func TestStartStop_CancelsInFlightGeneration(t *testing.T) {
	h := newHarness(t, llm.Scripted{Chunks: []llm.Chunk{{Content: "partial"}}, Block: true})
	h.c.cfg.TickInterval = 5 * time.Millisecond
	h.clock.Advance(time.Hour)
	// Start resets the silence clock; push the fake clock forward from another goroutine.
	stopClock := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopClock:
				return
			case <-time.After(time.Millisecond):
				h.clock.Advance(time.Second)
			}
		}
	}()
	defer close(stopClock)

	require.NoError(t, h.c.Start(context.Background()))
	assert.ErrorIs(t, h.c.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, h.c.Running())

	require.Eventually(t, func() bool { return len(h.provider.Requests()) == 1 }, 2*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.c.Stop(ctx))
	assert.False(t, h.c.Running())

	// No broadcast was expected on the mock, so any send would fail the test.
	assert.Equal(t, 0, h.c.Turns())
	require.NoError(t, h.c.Stop(ctx))
}
