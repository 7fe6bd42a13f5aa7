// ABOUTME: Scripted Provider for tests: replays queued responses and records requests
// ABOUTME: Lets callers exercise streaming, tool calls and failures without a network

package llm

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrScriptExhausted indicates the scripted provider ran out of responses.
var ErrScriptExhausted = errors.New("scripted provider has no more responses")

// Scripted is a step in a ScriptedProvider.
type Scripted struct {
	Chunks []Chunk
	// Err fails Chat when set.
	Err error
	// StreamErr is returned by Recv after Chunks are exhausted.
	StreamErr error
	// Block holds the stream open until the request context is cancelled.
	Block bool
}

// ScriptedProvider replays Scripted steps in order.
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    []Scripted
	requests []Request
}

// NewScriptedProvider creates a provider that replays steps.
func NewScriptedProvider(steps ...Scripted) *ScriptedProvider {
	return &ScriptedProvider{steps: steps}
}

// Text is a step streaming parts as separate chunks.
func Text(parts ...string) Scripted {
	chunks := make([]Chunk, 0, len(parts))
	for _, p := range parts {
		chunks = append(chunks, Chunk{Content: p})
	}
	return Scripted{Chunks: chunks}
}

// Push appends steps.
func (p *ScriptedProvider) Push(steps ...Scripted) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, steps...)
}

// Requests returns the requests received so far.
func (p *ScriptedProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Chat implements Provider.
func (p *ScriptedProvider) Chat(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		p.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	p.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}
	return &scriptedStream{ctx: ctx, step: step}, nil
}

type scriptedStream struct {
	ctx  context.Context
	step Scripted
	pos  int
}

func (s *scriptedStream) Recv() (Chunk, error) {
	if err := s.ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if s.pos < len(s.step.Chunks) {
		c := s.step.Chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.step.Block {
		<-s.ctx.Done()
		return Chunk{}, s.ctx.Err()
	}
	if s.step.StreamErr != nil {
		return Chunk{}, s.step.StreamErr
	}
	return Chunk{}, io.EOF
}

func (s *scriptedStream) Close() error {
	return nil
}
