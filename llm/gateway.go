// Package llm defines the gateway contract to language model providers.
// Providers are consumed through a single streaming operation: send role
// tagged messages (plus optional function schemas) and receive a lazy
// sequence of chunks. Chunks are either incremental text or a completion
// carrying the JSON-encoded arguments of a requested function call.
// Consumers must handle both chunk kinds and must tolerate the stream ending
// without a completion chunk.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ChunkType discriminates gateway output chunks.
type ChunkType string

const (
	// ChunkContent is an incremental text delta.
	ChunkContent ChunkType = "content_chunk"
	// ChunkCompletion marks the end of a structured call; FunctionArguments
	// holds the accumulated JSON argument string when a function schema was
	// supplied.
	ChunkCompletion ChunkType = "completion"
)

// Chunk is one unit of a streamed model response.
type Chunk struct {
	Type              ChunkType `json:"type"`
	Content           string    `json:"content,omitempty"`
	FunctionName      string    `json:"function_name,omitempty"`
	FunctionArguments string    `json:"function_arguments,omitempty"`
	FinishReason      string    `json:"finish_reason,omitempty"`
}

// Message is one role-tagged input turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FunctionSchema declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (minimal subset).
type FunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input.
type Request struct {
	Messages  []Message        `json:"messages"`
	Functions []FunctionSchema `json:"functions,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
	Stream    bool             `json:"stream,omitempty"`
}

// Info contains metadata about a gateway implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", ...
}

// Gateway is the minimal interface handlers use to drive generation. The
// returned channels are closed by the implementation when the stream ends;
// at most one error is delivered. Cancel via ctx to abandon an in-flight call.
type Gateway interface {
	Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error)

	// Info returns information about the gateway implementation.
	Info() Info
}

// CollectText drains a chunk stream accumulating text content, returning the
// full text plus the last seen function-call arguments (empty when none).
// It returns early with the context error if ctx is cancelled.
func CollectText(ctx context.Context, chunks <-chan Chunk, errs <-chan error) (string, string, error) {
	var sb strings.Builder
	var fnArgs string
	for chunks != nil || errs != nil {
		select {
		case <-ctx.Done():
			return sb.String(), fnArgs, ctx.Err()
		case ch, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			switch ch.Type {
			case ChunkContent:
				sb.WriteString(ch.Content)
			case ChunkCompletion:
				if ch.FunctionArguments != "" {
					fnArgs = ch.FunctionArguments
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return sb.String(), fnArgs, err
			}
		}
	}
	return sb.String(), fnArgs, nil
}

// MockGateway is a lightweight in-memory Gateway useful for tests. Responses
// are keyed by the content of the last user message; unknown prompts produce
// a generic echo. Canned function arguments, when set, are delivered in the
// completion chunk.
type MockGateway struct {
	mu        sync.Mutex
	responses map[string]string
	fnArgs    map[string]string
	queued    []mockReply
	failWith  error
	calls     int
}

type mockReply struct {
	text string
	args string
}

// NewMockGateway constructs an empty MockGateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{responses: map[string]string{}, fnArgs: map[string]string{}}
}

// AddResponse registers a deterministic canned completion for a prompt.
func (m *MockGateway) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// AddFunctionArguments registers canned function-call arguments for a prompt.
func (m *MockGateway) AddFunctionArguments(prompt, args string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fnArgs[prompt] = args
}

// QueueResponse enqueues a reply consumed by the next Generate call,
// regardless of prompt content. Queued replies win over keyed ones.
func (m *MockGateway) QueueResponse(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, mockReply{text: text})
}

// QueueFunctionCall enqueues a reply whose completion chunk carries the given
// function arguments.
func (m *MockGateway) QueueFunctionCall(text, args string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, mockReply{text: text, args: args})
}

// FailWith makes every subsequent Generate call deliver err.
func (m *MockGateway) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Calls returns the number of Generate invocations so far.
func (m *MockGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Gateway; emits optional streaming word chunks then a
// completion chunk.
func (m *MockGateway) Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.calls++
	failWith := m.failWith
	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			prompt = req.Messages[i].Content
			break
		}
	}
	var full, args string
	if len(m.queued) > 0 {
		reply := m.queued[0]
		m.queued = m.queued[1:]
		full, args = reply.text, reply.args
	} else {
		var ok bool
		full, ok = m.responses[prompt]
		if !ok {
			full = fmt.Sprintf("Mock response to: %s", prompt)
		}
		args = m.fnArgs[prompt]
	}
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)
		if failWith != nil {
			errCh <- failWith
			return
		}
		if req.Stream {
			for _, word := range strings.SplitAfter(full, " ") {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- Chunk{Type: ChunkContent, Content: word}:
				}
			}
		} else {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- Chunk{Type: ChunkContent, Content: full}:
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- Chunk{Type: ChunkCompletion, FunctionArguments: args, FinishReason: "stop"}:
		}
	}()

	return out, errCh
}

// Info implements Gateway.
func (m *MockGateway) Info() Info { return Info{Name: "mock", Provider: "mock"} }
