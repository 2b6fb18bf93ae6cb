package core

// SearchQuery is the structured input to the patent search gateway. Keywords
// and Filters refine the free-text query; Domain tags the technical field for
// relevance scoring.
type SearchQuery struct {
	Text     string            `json:"text"`
	Domain   string            `json:"domain,omitempty"`
	Keywords []string          `json:"keywords,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
}

// SearchResult is one scored record from a prior-art search. Identifier,
// Title, Summary and the date/party fields come from the gateway and are
// never mutated after creation; RelevanceScore, ConfidenceScore and Reasoning
// are filled in by the analyzer stage during scoring, and Claims by the
// optional claims enrichment step.
type SearchResult struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	Inventors       []string `json:"inventors,omitempty"`
	Assignees       []string `json:"assignees,omitempty"`
	Source          string   `json:"source"`
	PublicationDate string   `json:"publication_date,omitempty"`
	FilingDate      string   `json:"filing_date,omitempty"`
	RelevanceScore  float64  `json:"relevance_score"`
	ConfidenceScore float64  `json:"confidence_score"`
	Reasoning       string   `json:"reasoning,omitempty"`
	Claims          []string `json:"claims,omitempty"`
}
