// Package anthropic provides a gateway adapter for the Anthropic Claude
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/draftforge/draftforge/llm"
)

// Options configures the Anthropic gateway adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Gateway wraps the Anthropic Messages API behind llm.Gateway.
type Gateway struct {
	client *anthropic.Client
	opts   Options
}

// New creates an Anthropic gateway using the official client.
func New(optFns ...func(o *Options)) *Gateway {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.0,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Gateway{client: &client, opts: opts}
}

// NewFromClient creates an Anthropic gateway from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Gateway {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.0,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Gateway{client: client, opts: opts}
}

// Generate implements llm.Gateway. The Messages API is called without
// server-side streaming; when req.Stream is set the full text is still
// delivered as a content chunk ahead of the completion chunk so callers
// see the same chunk sequence either way.
func (g *Gateway) Generate(ctx context.Context, req llm.Request) (<-chan llm.Chunk, <-chan error) {
	out := make(chan llm.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		maxTokens := int64(req.MaxTokens)
		if maxTokens <= 0 {
			maxTokens = g.opts.MaxTokens
		}
		params := anthropic.MessageNewParams{
			Model:       g.opts.Model,
			Messages:    buildMessages(req.Messages),
			MaxTokens:   maxTokens,
			Temperature: anthropic.Float(g.opts.Temperature),
		}
		if system := extractSystem(req.Messages); len(system) > 0 {
			params.System = system
		}
		if len(req.Functions) > 0 {
			params.Tools = buildTools(req.Functions)
		}

		resp, err := g.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		final := llm.Chunk{Type: llm.ChunkCompletion, FinishReason: "stop"}
		if resp.StopReason != "" {
			final.FinishReason = string(resp.StopReason)
		}

		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text := block.AsText().Text
				if text == "" {
					continue
				}
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- llm.Chunk{Type: llm.ChunkContent, Content: text}:
				}
			case "tool_use":
				tu := block.AsToolUse()
				final.FunctionName = tu.Name
				if tu.Input != nil {
					if args, err := json.Marshal(tu.Input); err == nil {
						final.FunctionArguments = string(args)
					}
				}
			}
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- final:
		}
	}()

	return out, errCh
}

// Info implements llm.Gateway.
func (g *Gateway) Info() llm.Info {
	return llm.Info{Name: string(g.opts.Model), Provider: "anthropic"}
}

// buildMessages converts gateway messages to Anthropic message params.
// System messages are handled separately via extractSystem.
func buildMessages(msgs []llm.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, m := range msgs {
		if m.Role == "system" || m.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	return messages
}

func extractSystem(msgs []llm.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, m := range msgs {
		if m.Role == "system" && m.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: m.Content})
		}
	}
	return blocks
}

func buildTools(fns []llm.FunctionSchema) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(fns))
	for i, fn := range fns {
		schema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if fn.Parameters != nil {
			if properties, ok := fn.Parameters["properties"]; ok {
				schema.Properties = properties
			}
			switch required := fn.Parameters["required"].(type) {
			case []string:
				schema.Required = required
			case []interface{}:
				for _, r := range required {
					if s, ok := r.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
		}
		tools[i] = anthropic.ToolUnionParamOfTool(schema, fn.Name)
	}
	return tools
}
