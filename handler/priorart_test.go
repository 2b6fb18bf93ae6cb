package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/patents"
	"github.com/draftforge/draftforge/prompt"
)

type stubSearcher struct {
	results    []core.SearchResult
	err        error
	strategies []patents.Strategy
}

func (s *stubSearcher) Search(_ context.Context, strategies []patents.Strategy) ([]core.SearchResult, error) {
	s.strategies = strategies
	return s.results, s.err
}

func recentDate() string {
	return time.Now().Format("2006-01-02")
}

func TestPriorArt_EmptyQuery(t *testing.T) {
	h := NewPriorArtHandler(llm.NewMockGateway(), prompt.NewStore(), &stubSearcher{})
	events := collectEvents(t, h, Request{UserInput: ""})
	last := terminalOf(t, events)
	assert.Equal(t, core.KindError, last.Kind)
	assert.Equal(t, "search_failed", last.Context)
}

func TestPriorArt_SearcherError(t *testing.T) {
	mock := llm.NewMockGateway()
	mock.QueueFunctionCall("", `{"keywords":["vibration sensor"]}`)

	h := NewPriorArtHandler(mock, prompt.NewStore(), &stubSearcher{err: errors.New("api unavailable")})
	events := collectEvents(t, h, Request{UserInput: "vibration sensor for machinery"})
	last := terminalOf(t, events)
	assert.Equal(t, core.KindError, last.Kind)
	assert.Equal(t, "search_error", last.Context)
}

func TestPriorArt_ScoresAndRanks(t *testing.T) {
	searcher := &stubSearcher{results: []core.SearchResult{
		{ID: "1", Title: "Vibration sensor for machines", Summary: "A vibration sensor.", PublicationDate: recentDate()},
		{ID: "2", Title: "Unrelated cooking device", Summary: "A pan.", PublicationDate: "1990-01-01"},
		{ID: "3", Title: "Machine monitoring", Summary: "Uses a vibration sensor on machinery.", PublicationDate: "2001-05-01"},
	}}
	mock := llm.NewMockGateway()
	mock.QueueFunctionCall("", `{"keywords":["vibration","sensor"]}`)
	mock.QueueResponse("The strongest reference discloses a vibration sensor mounted on machinery.")

	h := NewPriorArtHandler(mock, prompt.NewStore(), searcher)
	events := collectEvents(t, h, Request{UserInput: "vibration sensor for monitoring machinery"})

	last := terminalOf(t, events)
	require.Equal(t, core.KindResults, last.Kind)

	results, ok := last.Data["results"].([]core.SearchResult)
	require.True(t, ok)
	// The cooking device scores below the threshold and is dropped.
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].ID)
	assert.Greater(t, results[0].RelevanceScore, results[1].RelevanceScore)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.RelevanceScore, 0.3)
		assert.NotEmpty(t, r.Reasoning)
	}
	assert.Contains(t, last.Response, "strongest reference")

	// Three query variants widen coverage.
	require.Len(t, searcher.strategies, 3)
}

func TestPriorArt_TopKLimit(t *testing.T) {
	var results []core.SearchResult
	for i := 0; i < 6; i++ {
		results = append(results, core.SearchResult{
			ID:              string(rune('a' + i)),
			Title:           "vibration sensor",
			Summary:         "vibration sensor",
			PublicationDate: recentDate(),
		})
	}
	mock := llm.NewMockGateway()
	mock.QueueFunctionCall("", `{"keywords":["vibration","sensor"]}`)
	mock.QueueResponse("summary")

	h := NewPriorArtHandler(mock, prompt.NewStore(), &stubSearcher{results: results},
		func(o *PriorArtOptions) { o.TopK = 4 })
	events := collectEvents(t, h, Request{UserInput: "vibration sensor"})
	last := terminalOf(t, events)
	require.Equal(t, core.KindResults, last.Kind)
	assert.Len(t, last.Data["results"].([]core.SearchResult), 4)
}

type stubClaimsFetcher struct {
	claims map[string][]string
	err    error
	calls  []string
}

func (f *stubClaimsFetcher) Claims(_ context.Context, patentNumber string) ([]string, error) {
	f.calls = append(f.calls, patentNumber)
	return f.claims[patentNumber], f.err
}

func TestPriorArt_AttachesClaimsToTopHits(t *testing.T) {
	var results []core.SearchResult
	for i := 0; i < 5; i++ {
		results = append(results, core.SearchResult{
			ID:              string(rune('a' + i)),
			Title:           "vibration sensor",
			Summary:         "vibration sensor",
			PublicationDate: recentDate(),
		})
	}
	fetcher := &stubClaimsFetcher{claims: map[string][]string{
		"a": {"1. A sensor comprising a housing."},
	}}
	mock := llm.NewMockGateway()
	mock.QueueFunctionCall("", `{"keywords":["vibration","sensor"]}`)
	mock.QueueResponse("summary")

	h := NewPriorArtHandler(mock, prompt.NewStore(), &stubSearcher{results: results},
		func(o *PriorArtOptions) { o.Claims = fetcher })
	events := collectEvents(t, h, Request{UserInput: "vibration sensor"})
	last := terminalOf(t, events)
	require.Equal(t, core.KindResults, last.Kind)

	scored := last.Data["results"].([]core.SearchResult)
	assert.Equal(t, []string{"1. A sensor comprising a housing."}, scored[0].Claims)
	// Lookups stop after the strongest hits; the tail stays unenriched.
	assert.Len(t, fetcher.calls, 3)
	assert.Empty(t, scored[4].Claims)
}

func TestPriorArt_ClaimsLookupFailureIsNonFatal(t *testing.T) {
	fetcher := &stubClaimsFetcher{err: errors.New("scrape blocked")}
	mock := llm.NewMockGateway()
	mock.QueueFunctionCall("", `{"keywords":["vibration","sensor"]}`)
	mock.QueueResponse("summary")

	searcher := &stubSearcher{results: []core.SearchResult{
		{ID: "1", Title: "vibration sensor", Summary: "vibration sensor", PublicationDate: recentDate()},
	}}
	h := NewPriorArtHandler(mock, prompt.NewStore(), searcher,
		func(o *PriorArtOptions) { o.Claims = fetcher })
	events := collectEvents(t, h, Request{UserInput: "vibration sensor"})
	last := terminalOf(t, events)
	require.Equal(t, core.KindResults, last.Kind)
	assert.Empty(t, last.Data["results"].([]core.SearchResult)[0].Claims)
}

func TestPriorArt_KeywordFallbackOnGatewayError(t *testing.T) {
	mock := llm.NewMockGateway()
	mock.FailWith(assert.AnError)

	searcher := &stubSearcher{}
	h := NewPriorArtHandler(mock, prompt.NewStore(), searcher)
	events := collectEvents(t, h, Request{UserInput: "wireless charging coil alignment"})

	// Search still runs with locally extracted keywords; zero hits is a valid result.
	last := terminalOf(t, events)
	require.Equal(t, core.KindResults, last.Kind)
	assert.Contains(t, last.Response, "No prior art found")
	require.Len(t, searcher.strategies, 3)
}

func TestExtractKeywords(t *testing.T) {
	kws := extractKeywords("Please find prior art about a wireless charging coil for electric vehicles")
	assert.Contains(t, kws, "wireless")
	assert.Contains(t, kws, "charging")
	assert.NotContains(t, kws, "the")
	assert.NotContains(t, kws, "prior")
	assert.NotContains(t, kws, "art")
}

func TestIdentifyDomain(t *testing.T) {
	assert.Equal(t, "electronics", identifyDomain("a sensor circuit"))
	assert.Equal(t, "software", identifyDomain("a machine learning model"))
	assert.Equal(t, "general", identifyDomain("a chair"))
}

func TestRelevanceWeightsAreConfigurable(t *testing.T) {
	h := NewPriorArtHandler(llm.NewMockGateway(), prompt.NewStore(), &stubSearcher{},
		func(o *PriorArtOptions) {
			o.Weights = ScoringWeights{TitleMatch: 1.0, RecencyYears: 3}
		})
	score := h.relevance(
		core.SearchResult{Title: "vibration sensor", Summary: "irrelevant"},
		core.SearchQuery{Keywords: []string{"vibration"}},
	)
	assert.Equal(t, 1.0, score)
}
