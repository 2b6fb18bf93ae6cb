package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/internal/util"
	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/logging"
	"github.com/draftforge/draftforge/patents"
	"github.com/draftforge/draftforge/prompt"
)

// PatentSearcher is the slice of the patent search client the prior art
// handler needs.
type PatentSearcher interface {
	Search(ctx context.Context, strategies []patents.Strategy) ([]core.SearchResult, error)
}

// ClaimsFetcher retrieves the full claim text of a single patent. The
// patents.ClaimsSource implements it.
type ClaimsFetcher interface {
	Claims(ctx context.Context, patentNumber string) ([]string, error)
}

// ScoringWeights control relevance scoring of search hits. They are
// configuration, not fixed rules: deployments tune them per corpus.
type ScoringWeights struct {
	TitleMatch   float64
	SummaryMatch float64
	DomainMatch  float64
	Recency      float64
	// RecencyYears is how far back a publication still counts as recent.
	RecencyYears int
}

// DefaultScoringWeights mirror the historical defaults.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		TitleMatch:   0.4,
		SummaryMatch: 0.3,
		DomainMatch:  0.2,
		Recency:      0.1,
		RecencyYears: 3,
	}
}

// PriorArtOptions configure a PriorArtHandler.
type PriorArtOptions struct {
	Weights            ScoringWeights
	RelevanceThreshold float64
	TopK               int
	// Claims, when set, is used to attach full claim text to the strongest
	// hits. Nil skips enrichment.
	Claims ClaimsFetcher
	Logger logging.Logger
}

// PriorArtHandler searches for prior art: it derives keywords from the
// request, issues several query strategies, scores and ranks the merged
// hits, and reports the top matches with a generated prose summary.
type PriorArtHandler struct {
	gateway   llm.Gateway
	prompts   *prompt.Store
	searcher  PatentSearcher
	weights   ScoringWeights
	threshold float64
	topK      int
	claims    ClaimsFetcher
	logger    logging.Logger
	now       func() time.Time
}

// NewPriorArtHandler creates a prior art search handler.
func NewPriorArtHandler(gateway llm.Gateway, prompts *prompt.Store, searcher PatentSearcher, optFns ...func(o *PriorArtOptions)) *PriorArtHandler {
	opts := PriorArtOptions{
		Weights:            DefaultScoringWeights(),
		RelevanceThreshold: 0.3,
		TopK:               10,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &PriorArtHandler{
		gateway:   gateway,
		prompts:   prompts,
		searcher:  searcher,
		weights:   opts.Weights,
		threshold: opts.RelevanceThreshold,
		topK:      opts.TopK,
		claims:    opts.Claims,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// Name implements Handler.
func (h *PriorArtHandler) Name() string { return "prior_art_search" }

// Run implements Handler.
func (h *PriorArtHandler) Run(ctx context.Context, req Request, emit EmitFunc) error {
	if strings.TrimSpace(req.UserInput) == "" {
		emit(core.NewErrorEvent("No search query provided", "search_failed"))
		return nil
	}

	if !emit(core.NewThoughtEvent("Generating search strategies...", "search_execution")) {
		return nil
	}

	query := h.buildQuery(ctx, req)
	strategies := buildStrategies(query)
	if len(strategies) == 0 {
		emit(core.NewErrorEvent("Could not derive search terms from the request", "search_failed"))
		return nil
	}

	if !emit(core.NewThoughtEvent(fmt.Sprintf("Searching with %d strategies: %s", len(strategies), strings.Join(query.Keywords, ", ")), "search_execution")) {
		return nil
	}

	results, err := h.searcher.Search(ctx, strategies)
	if err != nil {
		emit(core.NewErrorEvent(fmt.Sprintf("Patent search failed: %v", err), "search_error"))
		return nil
	}

	scored := h.scoreResults(results, query)
	if len(scored) > h.topK {
		scored = scored[:h.topK]
	}
	h.attachClaims(ctx, scored)

	if !emit(core.NewThoughtEvent(fmt.Sprintf("Found %d relevant references, summarizing...", len(scored)), "search_complete")) {
		return nil
	}

	summary := h.summarize(ctx, query, scored)
	emit(core.NewResultsEvent(summary, map[string]any{
		"results": scored,
		"query":   query,
	}).WithMetadata(map[string]any{
		"total_found": len(results),
		"returned":    len(scored),
	}))
	return nil
}

// buildQuery derives a structured query from the request. The model is asked
// for keyword variants first; on any failure the local extractor is enough.
func (h *PriorArtHandler) buildQuery(ctx context.Context, req Request) core.SearchQuery {
	query := core.SearchQuery{
		Text:     req.UserInput,
		Domain:   identifyDomain(req.UserInput),
		Keywords: extractKeywords(req.UserInput),
	}
	llmKeywords, err := h.generateKeywords(ctx, query)
	if err != nil {
		h.logger.Warn("keyword generation fell back to local extraction", "error", err)
		return query
	}
	for _, kw := range llmKeywords {
		query.Keywords = util.AppendIfMissing(query.Keywords, strings.ToLower(kw))
	}
	return query
}

func (h *PriorArtHandler) generateKeywords(ctx context.Context, query core.SearchQuery) ([]string, error) {
	user, err := h.prompts.Load("search_strategy_generation", map[string]any{
		"Query":  query.Text,
		"Domain": query.Domain,
	})
	if err != nil {
		return nil, err
	}
	out, errCh := h.gateway.Generate(ctx, llm.Request{
		Messages:  []llm.Message{{Role: "user", Content: user}},
		Functions: []llm.FunctionSchema{generateKeywordsSchema()},
		MaxTokens: 300,
	})
	args, _, err := collectFunctionCall(ctx, out, errCh)
	if err != nil {
		return nil, err
	}
	if args == "" {
		return nil, nil
	}
	var parsed struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return nil, err
	}
	return parsed.Keywords, nil
}

// buildStrategies widens coverage with three variants per query: exact
// phrase, all keywords, any keywords.
func buildStrategies(query core.SearchQuery) []patents.Strategy {
	if len(query.Keywords) == 0 {
		return nil
	}
	phrase := strings.Join(firstN(query.Keywords, 3), " ")
	all := strings.Join(firstN(query.Keywords, 4), " ")
	any := strings.Join(query.Keywords, " ")
	return []patents.Strategy{
		patents.PhraseStrategy("phrase", phrase),
		patents.AllTermsStrategy("all_terms", all),
		patents.AnyTermsStrategy("any_terms", any),
	}
}

// scoreResults fills in relevance, confidence and reasoning, drops hits below
// the threshold, and sorts descending by relevance.
func (h *PriorArtHandler) scoreResults(results []core.SearchResult, query core.SearchQuery) []core.SearchResult {
	scored := make([]core.SearchResult, 0, len(results))
	for _, r := range results {
		score := h.relevance(r, query)
		if score < h.threshold {
			continue
		}
		r.RelevanceScore = score
		r.ConfidenceScore = 0.8
		r.Reasoning = fmt.Sprintf("Relevance score %.2f based on query match", score)
		scored = append(scored, r)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})
	return scored
}

func (h *PriorArtHandler) relevance(r core.SearchResult, query core.SearchQuery) float64 {
	score := 0.0
	title := strings.ToLower(r.Title)
	summary := strings.ToLower(r.Summary)
	for _, kw := range query.Keywords {
		if strings.Contains(title, kw) {
			score += h.weights.TitleMatch
			break
		}
	}
	for _, kw := range query.Keywords {
		if strings.Contains(summary, kw) {
			score += h.weights.SummaryMatch
			break
		}
	}
	if query.Domain != "" && strings.Contains(summary, query.Domain) {
		score += h.weights.DomainMatch
	}
	if h.isRecent(r.PublicationDate) {
		score += h.weights.Recency
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// claimsEnrichLimit caps how many hits get a claims lookup per search.
const claimsEnrichLimit = 3

// attachClaims pulls full claim text for the strongest hits. A failed lookup
// is logged and skipped, never surfaced as a failed search.
func (h *PriorArtHandler) attachClaims(ctx context.Context, results []core.SearchResult) {
	if h.claims == nil {
		return
	}
	for i := range results {
		if i >= claimsEnrichLimit {
			return
		}
		claims, err := h.claims.Claims(ctx, results[i].ID)
		if err != nil {
			h.logger.Warn("claims lookup failed", "patent", results[i].ID, "error", err)
			continue
		}
		results[i].Claims = claims
	}
}

func (h *PriorArtHandler) isRecent(date string) bool {
	if len(date) < 4 {
		return false
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return false
	}
	return h.now().Year()-year <= h.weights.RecencyYears
}

// summarize asks the model for a prose summary of the hits; failures degrade
// to a generated one-liner, never to a failed search.
func (h *PriorArtHandler) summarize(ctx context.Context, query core.SearchQuery, results []core.SearchResult) string {
	fallback := fallbackSummary(query, results)
	if len(results) == 0 {
		return fallback
	}

	var listing strings.Builder
	for _, r := range results {
		fmt.Fprintf(&listing, "- %s (%s, %s): %s\n", r.Title, r.ID, r.PublicationDate, util.Truncate(r.Summary, 200))
	}
	user, err := h.prompts.Load("prior_art_summary", map[string]any{
		"Query":   query.Text,
		"Results": listing.String(),
	})
	if err != nil {
		return fallback
	}
	out, errCh := h.gateway.Generate(ctx, llm.Request{
		Messages:  []llm.Message{{Role: "user", Content: user}},
		MaxTokens: 600,
	})
	_, text, err := collectFunctionCall(ctx, out, errCh)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			h.logger.Warn("prior art summary generation failed", "error", err)
		}
		return fallback
	}
	return strings.TrimSpace(text)
}

func fallbackSummary(query core.SearchQuery, results []core.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No prior art found above the relevance threshold for %q.", query.Text)
	}
	top := results[0]
	return fmt.Sprintf("Found %d relevant references. Top result: %s (relevance %.2f).", len(results), top.Title, top.RelevanceScore)
}

// Domain vocabulary for rough query tagging.
var domainTerms = map[string][]string{
	"software":      {"software", "algorithm", "machine learning", "neural", "data processing", "application"},
	"electronics":   {"circuit", "semiconductor", "sensor", "processor", "chip", "signal"},
	"mechanical":    {"mechanical", "gear", "valve", "actuator", "assembly", "engine"},
	"biotechnology": {"protein", "gene", "antibody", "cell", "dna", "therapeutic"},
	"chemistry":     {"polymer", "compound", "catalyst", "composition", "molecule"},
}

func identifyDomain(text string) string {
	low := strings.ToLower(text)
	for domain, terms := range domainTerms {
		for _, term := range terms {
			if strings.Contains(low, term) {
				return domain
			}
		}
	}
	return "general"
}

// Filler vocabulary stripped during keyword extraction.
var searchStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "for": {},
	"to": {}, "in": {}, "on": {}, "with": {}, "using": {}, "based": {},
	"search": {}, "find": {}, "prior": {}, "art": {}, "patent": {},
	"patents": {}, "please": {}, "about": {}, "any": {}, "that": {}, "this": {},
	"my": {}, "invention": {}, "related": {},
}

func extractKeywords(text string) []string {
	var out []string
	for _, tok := range util.Fields(text) {
		tok = strings.ToLower(strings.Trim(tok, ".,;:!?()\"'"))
		if len(tok) < 3 {
			continue
		}
		if _, stop := searchStopwords[tok]; stop {
			continue
		}
		out = util.AppendIfMissing(out, tok)
		if len(out) >= 12 {
			break
		}
	}
	return out
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func generateKeywordsSchema() llm.FunctionSchema {
	return llm.FunctionSchema{
		Name:        "generate_keywords",
		Description: "Return prior art search keywords for an invention",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"keywords": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required": []string{"keywords"},
		},
	}
}
