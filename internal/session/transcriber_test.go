// ABOUTME: Tests for the Transcriber session and its factory
// ABOUTME: Covers ordering, hook results, fallback responses, drain and close

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-huddle/internal/conversation"
)

type hookRecorder struct {
	mu     sync.Mutex
	seen   []string
	result TurnResult
	block  chan struct{}
}

func (h *hookRecorder) hook(_ context.Context, identity, text string) TurnResult {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, identity+":"+text)
	return h.result
}

func (h *hookRecorder) calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

type recordingResponder struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recordingResponder) Respond(_ context.Context, _ string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return r.err
}

func (r *recordingResponder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

func TestTranscriberProcessesInOrder(t *testing.T) {
	chat := conversation.NewChatContext("alice")
	h := &hookRecorder{result: TurnHandled}
	tr := NewTranscriber("alice", chat, h.hook, nil, 0, nil)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx))
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, tr.Deliver(ctx, text))
	}
	require.NoError(t, tr.Drain(ctx))
	require.NoError(t, tr.Close())

	assert.Equal(t, []string{"alice:one", "alice:two", "alice:three"}, h.calls())
	items := chat.Items()
	require.Len(t, items, 3)
	for i, want := range []string{"one", "two", "three"} {
		assert.Equal(t, conversation.RoleUser, items[i].Role)
		assert.Equal(t, want, items[i].Content)
		assert.Equal(t, "alice", items[i].ParticipantID)
	}
}

func TestTranscriberHandledSuppressesFallback(t *testing.T) {
	h := &hookRecorder{result: TurnHandled}
	fallback := &recordingResponder{}
	tr := NewTranscriber("alice", conversation.NewChatContext("alice"), h.hook, fallback, 0, nil)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx))
	require.NoError(t, tr.Deliver(ctx, "hello"))
	require.NoError(t, tr.Drain(ctx))

	assert.Equal(t, 0, fallback.count())
}

func TestTranscriberContinueUsesFallback(t *testing.T) {
	h := &hookRecorder{result: TurnContinue}
	fallback := &recordingResponder{err: errors.New("tts down")}
	tr := NewTranscriber("alice", conversation.NewChatContext("alice"), h.hook, fallback, 0, nil)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx))
	require.NoError(t, tr.Deliver(ctx, "hello"))
	require.NoError(t, tr.Deliver(ctx, "again"))
	require.NoError(t, tr.Drain(ctx))

	assert.Equal(t, 2, fallback.count(), "a failing fallback does not stop the worker")
}

func TestTranscriberRejectsAfterDrain(t *testing.T) {
	tr := NewTranscriber("alice", conversation.NewChatContext("alice"), nil, nil, 0, nil)
	ctx := context.Background()

	assert.ErrorIs(t, tr.Deliver(ctx, "early"), ErrSessionClosed)

	require.NoError(t, tr.Start(ctx))
	require.NoError(t, tr.Drain(ctx))
	assert.ErrorIs(t, tr.Deliver(ctx, "late"), ErrSessionClosed)
	require.NoError(t, tr.Drain(ctx))
	require.NoError(t, tr.Close())
}

func TestTranscriberStartWithCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewTranscriber("alice", conversation.NewChatContext("alice"), nil, nil, 0, nil)
	assert.ErrorIs(t, tr.Start(ctx), context.Canceled)
	require.NoError(t, tr.Close())
}

func TestTranscriberDrainTimesOutAndCloseStops(t *testing.T) {
	h := &hookRecorder{result: TurnHandled, block: make(chan struct{})}
	tr := NewTranscriber("alice", conversation.NewChatContext("alice"), h.hook, nil, 0, nil)
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Deliver(context.Background(), "stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.Drain(ctx), context.DeadlineExceeded)

	close(h.block)
	require.NoError(t, tr.Close())
}

func TestTranscriberWorkerOutlivesStartContext(t *testing.T) {
	h := &hookRecorder{result: TurnHandled}
	tr := NewTranscriber("alice", conversation.NewChatContext("alice"), h.hook, nil, 0, nil)

	startCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tr.Start(startCtx))
	cancel()

	require.NoError(t, tr.Deliver(context.Background(), "still here"))
	require.NoError(t, tr.Drain(context.Background()))
	assert.Equal(t, []string{"alice:still here"}, h.calls())
}

func TestTranscriberFactory(t *testing.T) {
	h := &hookRecorder{result: TurnHandled}
	f := &TranscriberFactory{Hook: h.hook}
	store := conversation.NewStore(nil)
	m := NewManager(f, store, time.Second, nil, nil)

	m.OnConnected("alice")
	require.Eventually(t, func() bool { return m.State("alice") == StateActive }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Deliver(context.Background(), "alice", "hi there"))
	require.Eventually(t, func() bool { return len(h.calls()) == 1 }, time.Second, 5*time.Millisecond)

	cc, ok := store.Context("alice")
	require.True(t, ok)
	last, ok := cc.Last()
	require.True(t, ok)
	assert.Equal(t, "hi there", last.Content)

	require.NoError(t, m.CloseAll(context.Background()))
}
