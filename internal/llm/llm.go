// ABOUTME: Chat request, message, tool and streaming types shared by all providers
// ABOUTME: Collect drains a stream into text plus fully assembled tool calls

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"strings"
)

// ErrEmptyResponse indicates the stream produced neither text nor tool calls.
var ErrEmptyResponse = errors.New("empty model response")

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one chat message sent to the model.
type Message struct {
	Role    Role
	Content string
	// Name attributes a user message to a participant.
	Name       string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolCall is a complete function call chosen by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Request is a chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	Temperature float32
}

// ToolCallDelta is a streamed fragment of a tool call. Fragments with the
// same Index belong to the same call.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Chunk is one streamed delta.
type Chunk struct {
	Content      string
	ToolCalls    []ToolCallDelta
	FinishReason string
}

// Stream yields chunks until io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Provider starts streamed chat completions.
type Provider interface {
	Chat(ctx context.Context, req Request) (Stream, error)
}

// Response is a fully drained stream.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// Collect drains stream and closes it. On a mid-stream error the partial
// response is returned with the error.
func Collect(stream Stream) (Response, error) {
	defer stream.Close()

	var (
		text   strings.Builder
		calls  = make(map[int]*ToolCall)
		order  []int
		finish string
	)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Response{Content: text.String(), ToolCalls: assemble(calls, order), FinishReason: finish}, err
		}

		text.WriteString(chunk.Content)
		for _, d := range chunk.ToolCalls {
			call, ok := calls[d.Index]
			if !ok {
				call = &ToolCall{}
				calls[d.Index] = call
				order = append(order, d.Index)
			}
			if d.ID != "" {
				call.ID = d.ID
			}
			if d.Name != "" {
				call.Name += d.Name
			}
			call.Arguments += d.Arguments
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	return Response{Content: text.String(), ToolCalls: assemble(calls, order), FinishReason: finish}, nil
}

func assemble(calls map[int]*ToolCall, order []int) []ToolCall {
	if len(order) == 0 {
		return nil
	}
	slices.Sort(order)
	out := make([]ToolCall, 0, len(order))
	for _, idx := range order {
		out = append(out, *calls[idx])
	}
	return out
}

// Complete runs req against p and collects the whole response.
func Complete(ctx context.Context, p Provider, req Request) (Response, error) {
	stream, err := p.Chat(ctx, req)
	if err != nil {
		return Response{}, err
	}
	return Collect(stream)
}
