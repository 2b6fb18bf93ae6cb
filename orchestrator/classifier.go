package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/logging"
	"github.com/draftforge/draftforge/prompt"
)

// Classifier maps one user turn to an intent with a confidence score.
type Classifier interface {
	Classify(ctx context.Context, userInput, conversationContext string) (core.Intent, float64, error)
}

// KeywordClassifier is a deterministic rule-based classifier. It backs tests
// and serves as the fallback when no model is configured.
type KeywordClassifier struct{}

// Classify implements Classifier. Rules fire in priority order; the first
// match wins.
func (KeywordClassifier) Classify(_ context.Context, userInput, _ string) (core.Intent, float64, error) {
	low := strings.ToLower(userInput)
	switch {
	case containsAny(low, "prior art", "search", "find", "existing patents"):
		return core.IntentSearch, 0.8, nil
	case containsAny(low, "review", "check my claims", "critique"):
		return core.IntentContentReview, 0.8, nil
	case containsAny(low, "draft", "write claims", "generate claims", "claim for"):
		return core.IntentContentDrafting, 0.8, nil
	case containsAny(low, "assess", "patentability", "sufficient"):
		return core.IntentAssessment, 0.7, nil
	case containsAny(low, "analyze", "analysis"):
		return core.IntentAnalysis, 0.7, nil
	case containsAny(low, "how do i", "how does", "what is", "should i", "advice", "guidance"):
		return core.IntentGuidance, 0.7, nil
	default:
		return core.IntentGeneralConversation, 0.6, nil
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// LLMClassifier asks the model to classify with a function schema for
// structured output. Parse failures degrade to the keyword rules rather than
// failing the run.
type LLMClassifier struct {
	gateway  llm.Gateway
	prompts  *prompt.Store
	fallback KeywordClassifier
	logger   logging.Logger
}

// NewLLMClassifier creates a model-backed classifier.
func NewLLMClassifier(gateway llm.Gateway, prompts *prompt.Store, logger logging.Logger) *LLMClassifier {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &LLMClassifier{gateway: gateway, prompts: prompts, logger: logger}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, userInput, conversationContext string) (core.Intent, float64, error) {
	system, err := c.prompts.Load("intent_classification_system", nil)
	if err != nil {
		return "", 0, err
	}
	if conversationContext == "" {
		conversationContext = "No previous conversation"
	}
	user, err := c.prompts.Load("intent_classification_user", map[string]any{
		"UserInput":           userInput,
		"ConversationContext": conversationContext,
	})
	if err != nil {
		return "", 0, err
	}

	out, errCh := c.gateway.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Functions: []llm.FunctionSchema{classifyIntentSchema()},
		MaxTokens: 200,
	})
	started := time.Now()
	_, args, err := llm.CollectText(ctx, out, errCh)
	if dl, ok := c.logger.(*logging.DraftLogger); ok {
		dl.WithComponent("classifier").LogModelCall(c.gateway.Info().Name, time.Since(started), err == nil, err)
	}
	if err != nil {
		c.logger.Warn("intent classification model call failed, using keyword rules", "error", err)
		return c.fallback.Classify(ctx, userInput, conversationContext)
	}

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if args == "" || json.Unmarshal([]byte(args), &parsed) != nil {
		c.logger.Warn("unparseable intent classification, using keyword rules")
		return c.fallback.Classify(ctx, userInput, conversationContext)
	}

	intent := core.Intent(parsed.Intent)
	if !intent.Valid() {
		return core.IntentGeneralConversation, 0.5, nil
	}
	if parsed.Confidence <= 0 {
		parsed.Confidence = 0.5
	}
	return intent, parsed.Confidence, nil
}

func classifyIntentSchema() llm.FunctionSchema {
	intents := core.Intents()
	names := make([]string, len(intents))
	for i, intent := range intents {
		names[i] = string(intent)
	}
	return llm.FunctionSchema{
		Name:        "classify_intent",
		Description: "Classify the user's intent based on their input",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"intent":     map[string]any{"type": "string", "enum": names},
				"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
				"reasoning":  map[string]any{"type": "string"},
			},
			"required": []string{"intent", "confidence"},
		},
	}
}
