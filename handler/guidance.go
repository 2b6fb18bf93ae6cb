package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/prompt"
)

// GuidanceHandler answers questions about patent law and prosecution
// strategy, streaming the model's response as it arrives.
type GuidanceHandler struct {
	gateway llm.Gateway
	prompts *prompt.Store
}

// NewGuidanceHandler creates a guidance handler.
func NewGuidanceHandler(gateway llm.Gateway, prompts *prompt.Store) *GuidanceHandler {
	return &GuidanceHandler{gateway: gateway, prompts: prompts}
}

// Name implements Handler.
func (h *GuidanceHandler) Name() string { return "patent_guidance" }

// Run implements Handler.
func (h *GuidanceHandler) Run(ctx context.Context, req Request, emit EmitFunc) error {
	return streamTextResponse(ctx, h.gateway, h.prompts, req, emit, streamSpec{
		systemTemplate: "patent_guidance_system",
		userTemplate:   "patent_guidance_user",
		thoughtType:    "processing",
		errorContext:   "guidance_error",
	})
}

// ConversationHandler handles turns that need no tool at all: greetings,
// small talk, and out-of-domain questions.
type ConversationHandler struct {
	gateway llm.Gateway
	prompts *prompt.Store
}

// NewConversationHandler creates a conversation handler.
func NewConversationHandler(gateway llm.Gateway, prompts *prompt.Store) *ConversationHandler {
	return &ConversationHandler{gateway: gateway, prompts: prompts}
}

// Name implements Handler.
func (h *ConversationHandler) Name() string { return "general_conversation" }

// Run implements Handler.
func (h *ConversationHandler) Run(ctx context.Context, req Request, emit EmitFunc) error {
	return streamTextResponse(ctx, h.gateway, h.prompts, req, emit, streamSpec{
		systemTemplate: "general_conversation_system",
		userTemplate:   "general_conversation_user",
		thoughtType:    "processing",
		errorContext:   "conversation_error",
	})
}

type streamSpec struct {
	systemTemplate string
	userTemplate   string
	thoughtType    string
	errorContext   string
}

// streamTextResponse is the shared plain-text handler body: render prompts,
// stream content chunks as thoughts, finish with the assembled response.
func streamTextResponse(ctx context.Context, gateway llm.Gateway, prompts *prompt.Store, req Request, emit EmitFunc, spec streamSpec) error {
	system, err := prompts.Load(spec.systemTemplate, nil)
	if err != nil {
		return err
	}
	user, err := prompts.Load(spec.userTemplate, map[string]any{
		"UserInput": req.UserInput,
		"Context":   EnhancedContext(req),
	})
	if err != nil {
		return err
	}

	out, errCh := gateway.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: true,
	})

	var full strings.Builder
	for out != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			if chunk.Type == llm.ChunkContent {
				full.WriteString(chunk.Content)
				if !emit(core.NewThoughtEvent(chunk.Content, spec.thoughtType)) {
					return nil
				}
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				emit(core.NewErrorEvent(fmt.Sprintf("Request failed: %v", err), spec.errorContext))
				return nil
			}
		}
	}

	response := strings.TrimSpace(full.String())
	if response == "" {
		emit(core.NewErrorEvent("The model returned no response", spec.errorContext))
		return nil
	}
	emit(core.NewResultsEvent(response, nil))
	return nil
}
