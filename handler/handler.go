// Package handler implements the tool handlers the orchestrator routes
// intents to: claim drafting, claim review, guidance, general conversation,
// and prior art search.
package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/internal/util"
)

// Context budget applied when folding prior turns into a prompt. Claims
// sections get a wider budget because drafted claims are the context later
// turns most often refer back to.
const (
	contextTurns         = 5
	userContextChars     = 200
	assistantContextChars = 300
	claimsContextChars   = 800

	claimsMarker = "Generated Patent Claims:"
)

// Request carries one user turn into a handler.
type Request struct {
	SessionID string
	RunID     string
	UserInput string
	Context   string
	History   []core.Message
	Document  *core.DocumentContent
	Params    Params
}

// Params are free-form tool parameters extracted during intent
// classification, e.g. a max claim count.
type Params map[string]any

// Int returns the named parameter as an int, or def when absent or not
// numeric. JSON decoding delivers numbers as float64.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// String returns the named parameter as a string, or def when absent.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// EmitFunc delivers one event to the caller. It returns false when the
// consumer is gone; handlers should stop producing once that happens.
type EmitFunc func(core.Event) bool

// Handler is one routable capability. Run streams progress through emit and
// finishes with a single terminal event (results or error); the returned
// error covers failures before any terminal event could be emitted.
type Handler interface {
	Name() string
	Run(ctx context.Context, req Request, emit EmitFunc) error
}

// EnhancedContext folds the caller context, document content, and recent
// conversation history into one prompt-ready string.
func EnhancedContext(req Request) string {
	var parts []string
	if req.Context != "" {
		parts = append(parts, req.Context)
	}
	if doc := documentContext(req.Document); doc != "" {
		parts = append(parts, "DOCUMENT CONTEXT:\n"+doc)
	}
	if hist := ConversationContext(req.History); hist != "" {
		parts = append(parts, "CONVERSATION HISTORY:\n"+hist)
	}
	return strings.Join(parts, "\n\n")
}

func documentContext(doc *core.DocumentContent) string {
	if doc == nil {
		return ""
	}
	var parts []string
	if doc.Text != "" {
		parts = append(parts, "Document content: "+util.Truncate(doc.Text, 500))
	}
	if len(doc.Paragraphs) > 0 {
		parts = append(parts, fmt.Sprintf("Document structure: %d paragraphs", len(doc.Paragraphs)))
	}
	if doc.SessionID != "" {
		parts = append(parts, "Document session: "+doc.SessionID)
	}
	return strings.Join(parts, "\n")
}

// ConversationContext renders the last few turns with per-role budgets.
// Assistant turns containing drafted claims keep a wider slice so follow-up
// requests ("make claim 2 narrower") still see what they refer to.
func ConversationContext(history []core.Message) string {
	if len(history) == 0 {
		return ""
	}
	recent := history
	if len(recent) > contextTurns {
		recent = recent[len(recent)-contextTurns:]
	}
	var parts []string
	for i, m := range recent {
		switch m.Role {
		case core.RoleUser:
			parts = append(parts, fmt.Sprintf("USER REQUEST %d: %s", i+1, util.Truncate(m.Content, userContextChars)))
		case core.RoleAssistant:
			if idx := strings.Index(m.Content, claimsMarker); idx >= 0 {
				section := "PREVIOUSLY GENERATED CLAIMS:" + strings.TrimPrefix(m.Content[idx:], claimsMarker)
				parts = append(parts, fmt.Sprintf("ASSISTANT RESPONSE %d: %s", i+1, util.Truncate(section, claimsContextChars)))
			} else {
				parts = append(parts, fmt.Sprintf("ASSISTANT RESPONSE %d: %s", i+1, util.Truncate(m.Content, assistantContextChars)))
			}
		}
	}
	return strings.Join(parts, "\n")
}
