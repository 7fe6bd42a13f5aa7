// ABOUTME: OpenAI-compatible Provider built on sashabaranov/go-openai streaming
// ABOUTME: Maps messages and tools to the chat completions API and chunks back to deltas

package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoAPIKey indicates the provider was configured without credentials.
var ErrNoAPIKey = errors.New("llm api key is not configured")

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a provider. model is used when a Request leaves Model empty.
func NewOpenAI(apiKey, baseURL, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Chat starts a streamed completion.
func (o *OpenAI) Chat(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		Tools:       toOpenAITools(req.Tools),
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("starting chat stream: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       participantName(m.Name),
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

// participantName fits an identity to the API's name pattern.
func participantName(name string) string {
	if name == "" {
		return ""
	}
	name = invalidNameChars.ReplaceAllString(name, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

func toOpenAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (Chunk, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return Chunk{}, err
	}
	if len(resp.Choices) == 0 {
		return Chunk{}, nil
	}

	choice := resp.Choices[0]
	chunk := Chunk{
		Content:      choice.Delta.Content,
		FinishReason: string(choice.FinishReason),
	}
	for i, tc := range choice.Delta.ToolCalls {
		idx := i
		if tc.Index != nil {
			idx = *tc.Index
		}
		chunk.ToolCalls = append(chunk.ToolCalls, ToolCallDelta{
			Index:     idx,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return chunk, nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
