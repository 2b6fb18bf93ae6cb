package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/logging"
	"github.com/draftforge/draftforge/prompt"
)

// Indicator terms a usable invention disclosure tends to contain. Used by the
// cheap local sufficiency check before any model call is spent.
var disclosureIndicators = []string{
	"method", "system", "process", "technique", "approach",
	"algorithm", "protocol", "interface", "component", "module",
	"device", "sensor", "signal", "data", "structure",
	"circuit", "network", "layer", "material", "assembly",
}

// DraftedClaim is one claim produced by the drafting model.
type DraftedClaim struct {
	ClaimNumber string `json:"claim_number"`
	ClaimText   string `json:"claim_text"`
	ClaimType   string `json:"claim_type"`
	Dependency  string `json:"dependency,omitempty"`
}

// DraftingOptions configure a DraftingHandler.
type DraftingOptions struct {
	MaxClaims int
	Logger    logging.Logger
}

// DraftingHandler turns an invention disclosure into numbered patent claims.
// Thin disclosures are assessed first and answered with concrete gaps instead
// of low-quality claims.
type DraftingHandler struct {
	gateway   llm.Gateway
	prompts   *prompt.Store
	maxClaims int
	logger    logging.Logger
}

// NewDraftingHandler creates a drafting handler.
func NewDraftingHandler(gateway llm.Gateway, prompts *prompt.Store, optFns ...func(o *DraftingOptions)) *DraftingHandler {
	opts := DraftingOptions{MaxClaims: 20, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &DraftingHandler{gateway: gateway, prompts: prompts, maxClaims: opts.MaxClaims, logger: opts.Logger}
}

// Name implements Handler.
func (h *DraftingHandler) Name() string { return "claim_drafting" }

// Run implements Handler.
func (h *DraftingHandler) Run(ctx context.Context, req Request, emit EmitFunc) error {
	if strings.TrimSpace(req.UserInput) == "" {
		emit(core.NewErrorEvent("No invention disclosure provided", "content_drafting_failed"))
		return nil
	}

	if !emit(core.NewThoughtEvent("Assessing the invention disclosure...", "assessment")) {
		return nil
	}

	if score := sufficiencyScore(req.UserInput); score < 0.5 {
		return h.explainInsufficiency(ctx, req, emit, score)
	}
	if !emit(core.NewThoughtEvent("Disclosure looks sufficient, drafting claims...", "assessment_complete")) {
		return nil
	}
	return h.draftClaims(ctx, req, emit)
}

// sufficiencyScore is a cheap heuristic: enough words and enough technical
// vocabulary. Below 0.5 the disclosure is treated as too thin to draft from.
func sufficiencyScore(input string) float64 {
	words := float64(len(strings.Fields(input)))
	indicators := 0.0
	low := strings.ToLower(input)
	for _, term := range disclosureIndicators {
		if strings.Contains(low, term) {
			indicators++
		}
	}
	score := (words / 100) * (indicators / 10)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// explainInsufficiency asks the model what is missing and reports it as the
// run's result rather than failing.
func (h *DraftingHandler) explainInsufficiency(ctx context.Context, req Request, emit EmitFunc, score float64) error {
	system, err := h.prompts.Load("disclosure_assessment_system", nil)
	if err != nil {
		return err
	}
	user, err := h.prompts.Load("disclosure_assessment_user", map[string]any{"Disclosure": req.UserInput})
	if err != nil {
		return err
	}

	out, errCh := h.gateway.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Functions: []llm.FunctionSchema{assessDisclosureSchema()},
		MaxTokens: 500,
	})
	args, _, err := collectFunctionCall(ctx, out, errCh)
	if err != nil {
		emit(core.NewErrorEvent(fmt.Sprintf("Disclosure assessment failed: %v", err), "content_drafting_error"))
		return nil
	}

	var assessment struct {
		Sufficient     bool     `json:"sufficient"`
		Reasoning      string   `json:"reasoning"`
		MissingAspects []string `json:"missing_aspects"`
	}
	if args != "" {
		if err := json.Unmarshal([]byte(args), &assessment); err != nil {
			h.logger.Warn("unparseable disclosure assessment", "error", err)
		}
	}

	var sb strings.Builder
	sb.WriteString("The disclosure needs more technical detail before claims can be drafted.")
	if assessment.Reasoning != "" {
		sb.WriteString(" " + assessment.Reasoning)
	}
	if len(assessment.MissingAspects) > 0 {
		sb.WriteString("\n\nPlease describe:\n")
		for _, m := range assessment.MissingAspects {
			sb.WriteString("- " + m + "\n")
		}
	}
	emit(core.NewResultsEvent(sb.String(), map[string]any{
		"missing_aspects": assessment.MissingAspects,
	}).WithMetadata(map[string]any{"sufficiency_score": score}))
	return nil
}

func (h *DraftingHandler) draftClaims(ctx context.Context, req Request, emit EmitFunc) error {
	maxClaims := req.Params.Int("max_claims", h.maxClaims)

	system, err := h.prompts.Load("claims_generation_system", nil)
	if err != nil {
		return err
	}
	docText := ""
	if req.Document != nil {
		docText = req.Document.Text
	}
	user, err := h.prompts.Load("claims_generation_user", map[string]any{
		"Disclosure":          req.UserInput,
		"DocumentContent":     docText,
		"ConversationHistory": ConversationContext(req.History),
		"MaxClaims":           maxClaims,
	})
	if err != nil {
		return err
	}

	out, errCh := h.gateway.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Functions: []llm.FunctionSchema{draftClaimsSchema(maxClaims)},
		Stream:    true,
	})

	var args strings.Builder
	for out != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			switch chunk.Type {
			case llm.ChunkContent:
				if !emit(core.NewThoughtEvent(chunk.Content, "drafting")) {
					return nil
				}
			case llm.ChunkCompletion:
				args.WriteString(chunk.FunctionArguments)
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				emit(core.NewErrorEvent(fmt.Sprintf("Claim drafting failed: %v", err), "content_drafting_error"))
				return nil
			}
		}
	}

	var parsed struct {
		Claims    []DraftedClaim `json:"claims"`
		Reasoning string         `json:"reasoning"`
	}
	if raw := args.String(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			h.logger.Warn("unparseable drafting result", "error", err)
		}
	}
	if len(parsed.Claims) == 0 {
		emit(core.NewErrorEvent("Claim drafting failed - no valid claims generated", "content_drafting_failed"))
		return nil
	}
	if len(parsed.Claims) > maxClaims {
		parsed.Claims = parsed.Claims[:maxClaims]
	}

	var text strings.Builder
	text.WriteString("Generated Patent Claims:\n\n")
	for _, c := range parsed.Claims {
		text.WriteString(c.ClaimText)
		text.WriteString("\n\n")
	}

	emit(core.NewResultsEvent(
		strings.TrimSpace(text.String()),
		map[string]any{"content": parsed.Claims, "reasoning": parsed.Reasoning},
	).WithMetadata(map[string]any{"claims_generated": len(parsed.Claims)}))
	return nil
}

func assessDisclosureSchema() llm.FunctionSchema {
	return llm.FunctionSchema{
		Name:        "assess_disclosure",
		Description: "Assess whether an invention disclosure is sufficient for claim drafting",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sufficient":      map[string]any{"type": "boolean"},
				"reasoning":       map[string]any{"type": "string"},
				"missing_aspects": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []string{"sufficient", "reasoning"},
		},
	}
}

func draftClaimsSchema(maxClaims int) llm.FunctionSchema {
	return llm.FunctionSchema{
		Name:        "draft_claims",
		Description: fmt.Sprintf("Return up to %d drafted patent claims", maxClaims),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"claims": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"claim_number": map[string]any{"type": "string"},
							"claim_text":   map[string]any{"type": "string"},
							"claim_type":   map[string]any{"type": "string", "enum": []string{"independent", "dependent"}},
							"dependency":   map[string]any{"type": "string"},
						},
						"required": []string{"claim_number", "claim_text", "claim_type"},
					},
				},
				"reasoning": map[string]any{"type": "string"},
			},
			"required": []string{"claims", "reasoning"},
		},
	}
}

// collectFunctionCall drains a generation and returns the aggregated function
// arguments plus any streamed text.
func collectFunctionCall(ctx context.Context, out <-chan llm.Chunk, errCh <-chan error) (args, text string, err error) {
	var argsSB, textSB strings.Builder
	for out != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case chunk, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			switch chunk.Type {
			case llm.ChunkContent:
				textSB.WriteString(chunk.Content)
			case llm.ChunkCompletion:
				argsSB.WriteString(chunk.FunctionArguments)
			}
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if e != nil {
				return "", "", e
			}
		}
	}
	return argsSB.String(), textSB.String(), nil
}
