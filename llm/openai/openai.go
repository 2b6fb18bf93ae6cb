// Package openai adapts the OpenAI Chat Completions API (streaming plus
// function calling) to the llm.Gateway contract.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/draftforge/draftforge/llm"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// so a complete function call can be reconstructed at finish.
type aggCall struct{ id, name, args string }

// Options configure the OpenAI gateway adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Gateway wraps the OpenAI Chat Completions API behind llm.Gateway.
type Gateway struct {
	client *openai.Client
	opts   Options
}

// New creates an OpenAI gateway using the official client (API key read from
// the environment by the SDK).
func New(optFns ...func(o *Options)) *Gateway {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates an OpenAI gateway from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Gateway {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.0,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Gateway{client: client, opts: opts}
}

// Generate implements llm.Gateway.
func (g *Gateway) Generate(ctx context.Context, req llm.Request) (<-chan llm.Chunk, <-chan error) {
	out := make(chan llm.Chunk, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		params := g.buildParams(req)
		if req.Stream {
			g.handleStreaming(ctx, params, out, errCh)
			return
		}
		g.handleNonStreaming(ctx, params, out, errCh)
	}()
	return out, errCh
}

func (g *Gateway) buildParams(req llm.Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = g.opts.MaxCompletionTokens
	}
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               g.opts.Model,
		Temperature:         openai.Float(g.opts.Temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if len(req.Functions) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Functions))
	for i, fn := range req.Functions {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        fn.Name,
				Description: openai.String(fn.Description),
				Parameters:  fn.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

func (g *Gateway) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- llm.Chunk,
	errCh chan<- error,
) {
	stream := g.client.Chat.Completions.NewStreaming(ctx, params)
	toolAgg := map[int64]*aggCall{}
	for stream.Next() {
		ck := stream.Current()
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- llm.Chunk{Type: llm.ChunkContent, Content: ch.Delta.Content}:
				}
			}
			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := toolAgg[tc.Index]
				if !ok {
					ac = &aggCall{}
					toolAgg[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					ac.args += tc.Function.Arguments
				}
			}
			if ch.FinishReason != "" {
				final := llm.Chunk{Type: llm.ChunkCompletion, FinishReason: ch.FinishReason}
				for _, ac := range toolAgg {
					final.FunctionName = ac.name
					final.FunctionArguments = ac.args
				}
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- final:
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("openai streaming error: %w", err)
	}
}

func (g *Gateway) handleNonStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- llm.Chunk,
	errCh chan<- error,
) {
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		errCh <- fmt.Errorf("openai api error: %w", err)
		return
	}
	if len(resp.Choices) == 0 {
		errCh <- fmt.Errorf("no choices returned")
		return
	}
	ch0 := resp.Choices[0]
	if ch0.Message.Content != "" {
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
			return
		case out <- llm.Chunk{Type: llm.ChunkContent, Content: ch0.Message.Content}:
		}
	}
	final := llm.Chunk{Type: llm.ChunkCompletion, FinishReason: ch0.FinishReason}
	for _, tc := range ch0.Message.ToolCalls {
		final.FunctionName = tc.Function.Name
		final.FunctionArguments = tc.Function.Arguments
	}
	select {
	case <-ctx.Done():
		errCh <- ctx.Err()
	case out <- final:
	}
}

// Info implements llm.Gateway.
func (g *Gateway) Info() llm.Info {
	return llm.Info{Name: g.opts.Model, Provider: "openai"}
}
