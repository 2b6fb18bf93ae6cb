package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/draftforge/draftforge/claims"
	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/logging"
	"github.com/draftforge/draftforge/prompt"
)

// Finding is one defect reported by the claim review.
type Finding struct {
	ClaimNumber string `json:"claim_number"`
	Severity    string `json:"severity"`
	Issue       string `json:"issue"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// ReviewOptions configure a ReviewHandler.
type ReviewOptions struct {
	Logger logging.Logger
}

// ReviewHandler examines claims for drafting defects. It combines the local
// syntax checker with a model review so mechanical problems (numbering,
// missing "comprising") surface even when the model misses them.
type ReviewHandler struct {
	gateway llm.Gateway
	prompts *prompt.Store
	logger  logging.Logger
}

// NewReviewHandler creates a review handler.
func NewReviewHandler(gateway llm.Gateway, prompts *prompt.Store, optFns ...func(o *ReviewOptions)) *ReviewHandler {
	opts := ReviewOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ReviewHandler{gateway: gateway, prompts: prompts, logger: opts.Logger}
}

// Name implements Handler.
func (h *ReviewHandler) Name() string { return "claim_review" }

// Run implements Handler.
func (h *ReviewHandler) Run(ctx context.Context, req Request, emit EmitFunc) error {
	claimList := extractClaims(req)
	if len(claimList) == 0 {
		emit(core.NewErrorEvent("No claims found to review", "content_review_failed"))
		return nil
	}

	if !emit(core.NewThoughtEvent(fmt.Sprintf("Reviewing %d claims...", len(claimList)), "analysis")) {
		return nil
	}

	syntax := claims.Check(claimList)
	findings := syntaxFindings(syntax)

	if !emit(core.NewThoughtEvent("Syntax check complete, running substantive review...", "validation")) {
		return nil
	}

	modelFindings, err := h.modelReview(ctx, req, claimList)
	if err != nil {
		h.logger.Warn("model review unavailable, reporting syntax findings only", "error", err)
	}
	findings = append(findings, modelFindings...)

	var text strings.Builder
	if len(findings) == 0 {
		text.WriteString("No issues found. The claims look structurally sound.")
	} else {
		fmt.Fprintf(&text, "Found %d issue(s):\n\n", len(findings))
		for _, f := range findings {
			fmt.Fprintf(&text, "- [%s] Claim %s: %s", f.Severity, f.ClaimNumber, f.Issue)
			if f.Suggestion != "" {
				fmt.Fprintf(&text, " Suggestion: %s", f.Suggestion)
			}
			text.WriteString("\n")
		}
	}

	emit(core.NewResultsEvent(text.String(), map[string]any{
		"claims":       findings,
		"syntax_ok":    syntax.OK,
		"claims_count": len(claimList),
	}))
	return nil
}

// extractClaims pulls a claim list from the request: explicit params first,
// then numbered lines in the user input.
func extractClaims(req Request) []string {
	if raw, ok := req.Params["claims"].([]any); ok {
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return splitNumberedClaims(req.UserInput)
}

// splitNumberedClaims splits free text into claims at lines starting with
// "N." or "N)". Text before the first numbered line is ignored.
func splitNumberedClaims(text string) []string {
	var out []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
	}
	for _, line := range strings.Split(text, "\n") {
		if leadingNumberedLine(line) {
			flush()
		}
		if current.Len() > 0 || leadingNumberedLine(line) {
			current.WriteString(strings.TrimSpace(line))
			current.WriteString(" ")
		}
	}
	flush()
	return out
}

func leadingNumberedLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	return i > 0 && i < len(trimmed) && (trimmed[i] == '.' || trimmed[i] == ')')
}

func syntaxFindings(rep claims.Report) []Finding {
	out := make([]Finding, 0, len(rep.Issues))
	for _, issue := range rep.Issues {
		out = append(out, Finding{ClaimNumber: "-", Severity: "warning", Issue: issue})
	}
	return out
}

func (h *ReviewHandler) modelReview(ctx context.Context, req Request, claimList []string) ([]Finding, error) {
	system, err := h.prompts.Load("claims_analysis_system", nil)
	if err != nil {
		return nil, err
	}
	docText := ""
	if req.Document != nil {
		docText = req.Document.Text
	}
	user, err := h.prompts.Load("claims_analysis_user", map[string]any{
		"Claims":          strings.Join(claimList, "\n"),
		"DocumentContent": docText,
	})
	if err != nil {
		return nil, err
	}

	out, errCh := h.gateway.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Functions: []llm.FunctionSchema{reviewClaimsSchema()},
	})
	args, _, err := collectFunctionCall(ctx, out, errCh)
	if err != nil {
		return nil, err
	}
	if args == "" {
		return nil, nil
	}
	var parsed struct {
		Findings []Finding `json:"findings"`
	}
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return nil, fmt.Errorf("unparseable review result: %w", err)
	}
	for i := range parsed.Findings {
		if parsed.Findings[i].Severity == "" {
			parsed.Findings[i].Severity = "suggestion"
		}
	}
	return parsed.Findings, nil
}

func reviewClaimsSchema() llm.FunctionSchema {
	return llm.FunctionSchema{
		Name:        "review_claims",
		Description: "Report defects found in the reviewed claims",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"findings": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"claim_number": map[string]any{"type": "string"},
							"severity":     map[string]any{"type": "string", "enum": []string{"critical", "warning", "suggestion"}},
							"issue":        map[string]any{"type": "string"},
							"suggestion":   map[string]any{"type": "string"},
						},
						"required": []string{"claim_number", "severity", "issue"},
					},
				},
			},
			"required": []string{"findings"},
		},
	}
}
