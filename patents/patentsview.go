// Package patents provides clients for external patent data sources: the
// PatentsView search API and a headless-browser scraper for Google Patents.
package patents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/logging"
)

// PatentsView API defaults. The patent endpoint serves bibliographic search;
// claims live behind a separate endpoint keyed by patent id.
const (
	DefaultBaseURL            = "https://search.patentsview.org/api/v1"
	patentPath                = "/patent/"
	claimsPath                = "/g_claim/"
	DefaultMaxResults         = 20
	DefaultRateLimitPerMinute = 40
)

// Config configures the PatentsView client.
type Config struct {
	APIKey             string
	BaseURL            string
	MaxResults         int
	RateLimitPerMinute int
	HTTPClient         *http.Client
	Logger             logging.Logger
}

// Client is a rate-limited PatentsView API client. All requests share one
// ticker so concurrent searches cannot exceed the configured rate.
type Client struct {
	cfg     Config
	limiter <-chan time.Time
}

// NewClient validates the config and constructs a client.
func NewClient(cfg Config) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("patentsview api key not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	interval := time.Minute / time.Duration(cfg.RateLimitPerMinute)
	ticker := time.NewTicker(interval)
	return &Client{cfg: cfg, limiter: ticker.C}, nil
}

// Strategy is one query variant in a multi-strategy search. Widening a search
// means issuing several strategies and merging their hits.
type Strategy struct {
	ID   string
	Body map[string]any
}

// PhraseStrategy matches an exact phrase in title or abstract.
func PhraseStrategy(id, phrase string) Strategy {
	return Strategy{ID: id, Body: buildTextQuery("_text_phrase", phrase)}
}

// AllTermsStrategy matches records containing every token in title or abstract.
func AllTermsStrategy(id, tokens string) Strategy {
	return Strategy{ID: id, Body: buildTextQuery("_text_all", tokens)}
}

// AnyTermsStrategy matches records containing any token in title or abstract.
func AnyTermsStrategy(id, tokens string) Strategy {
	return Strategy{ID: id, Body: buildTextQuery("_text_any", tokens)}
}

func buildTextQuery(op, text string) map[string]any {
	return map[string]any{
		"q": map[string]any{"_or": []any{
			map[string]any{op: map[string]any{"patent_title": text}},
			map[string]any{op: map[string]any{"patent_abstract": text}},
		}},
		"f": []string{
			"patent_id", "patent_title", "patent_abstract", "patent_date",
			"application.filing_date",
			"assignees.assignee_organization",
			"inventors.inventor_name_first", "inventors.inventor_name_last",
		},
		"s": []map[string]string{{"patent_date": "desc"}, {"patent_id": "asc"}},
		"o": map[string]int{"size": 100},
	}
}

type apiResponse struct {
	Error     bool             `json:"error"`
	Count     int              `json:"count"`
	TotalHits int              `json:"total_hits"`
	Patents   []map[string]any `json:"patents"`
}

type claimsResponse struct {
	Error  bool             `json:"error"`
	Claims []map[string]any `json:"g_claims"`
}

// Search executes every strategy in order, deduplicates hits by patent id,
// and returns up to MaxResults records sorted newest grant first. A strategy
// that fails is logged and skipped; Search fails only when all do.
func (c *Client) Search(ctx context.Context, strategies []Strategy) ([]core.SearchResult, error) {
	if len(strategies) == 0 {
		return nil, errors.New("no search strategies provided")
	}

	byID := map[string]core.SearchResult{}
	failed := 0
	for _, st := range strategies {
		if err := c.waitRateLimit(ctx); err != nil {
			return nil, err
		}
		resp, status, err := c.executeWithRetry(ctx, patentPath, st.Body)
		if err != nil {
			failed++
			if status == http.StatusForbidden {
				return nil, errors.New("patentsview authentication failed, check api key")
			}
			c.cfg.Logger.Warn("patent search strategy failed", "strategy", st.ID, "status", status, "error", err)
			continue
		}
		var parsed apiResponse
		if err := json.Unmarshal(resp, &parsed); err != nil {
			failed++
			c.cfg.Logger.Warn("patent search strategy returned bad json", "strategy", st.ID, "error", err)
			continue
		}
		if parsed.Error {
			failed++
			c.cfg.Logger.Warn("patentsview error flag set", "strategy", st.ID)
			continue
		}
		for _, raw := range parsed.Patents {
			r := flattenPatent(raw)
			if r.ID == "" {
				continue
			}
			if _, seen := byID[r.ID]; seen {
				continue
			}
			if len(byID) >= c.cfg.MaxResults {
				break
			}
			byID[r.ID] = r
		}
	}
	if failed == len(strategies) {
		return nil, errors.New("patentsview api unavailable")
	}

	out := make([]core.SearchResult, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PublicationDate != out[j].PublicationDate {
			return out[i].PublicationDate > out[j].PublicationDate
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Claim is one claim of a granted patent as returned by the claims endpoint.
type Claim struct {
	Number    string `json:"number"`
	Text      string `json:"text"`
	Dependent bool   `json:"dependent"`
}

// Claims fetches the claim text for a patent. An empty result is not an
// error: many records simply have no claims on file.
func (c *Client) Claims(ctx context.Context, patentID string) ([]Claim, error) {
	patentID = strings.TrimSpace(patentID)
	if patentID == "" {
		return nil, errors.New("empty patent id")
	}
	if err := c.waitRateLimit(ctx); err != nil {
		return nil, err
	}
	body := map[string]any{
		"q": map[string]any{"patent_id": patentID},
		"f": []string{"claim_sequence", "claim_text", "claim_number", "claim_dependent"},
		"s": []map[string]string{{"claim_sequence": "asc"}},
		"o": map[string]int{"size": 100},
	}
	resp, _, err := c.executeWithRetry(ctx, claimsPath, body)
	if err != nil {
		return nil, err
	}
	var parsed claimsResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error {
		return nil, errors.New("patentsview error flag set")
	}

	claims := make([]Claim, 0, len(parsed.Claims))
	for i, raw := range parsed.Claims {
		text := strings.TrimSpace(str(raw["claim_text"]))
		if text == "" {
			continue
		}
		number := strings.TrimSpace(str(raw["claim_number"]))
		if number == "" {
			number = strconv.Itoa(i + 1)
		}
		claims = append(claims, Claim{
			Number:    number,
			Text:      text,
			Dependent: strings.TrimSpace(str(raw["claim_dependent"])) != "",
		})
	}
	return claims, nil
}

func (c *Client) waitRateLimit(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.limiter:
		return nil
	}
}

func (c *Client) executeWithRetry(ctx context.Context, path string, body map[string]any) ([]byte, int, error) {
	var lastErr error
	status := 0
	for attempt := 1; attempt <= 4; attempt++ {
		resp, code, retryAfter, err := c.executeOnce(ctx, path, body)
		status = code
		if err == nil {
			return resp, status, nil
		}
		lastErr = err

		// Client errors will not improve on retry.
		if code == http.StatusBadRequest || code == http.StatusForbidden {
			return nil, status, err
		}
		if attempt == 4 {
			break
		}
		if code == http.StatusTooManyRequests {
			sleep := retryAfter
			if sleep <= 0 {
				sleep = backoffDelay(attempt)
			}
			if err := sleepCtx(ctx, sleep); err != nil {
				return nil, status, err
			}
			continue
		}
		if code >= 500 || isTimeoutError(err) {
			if err := sleepCtx(ctx, backoffDelay(attempt)); err != nil {
				return nil, status, err
			}
			continue
		}
		return nil, status, err
	}
	return nil, status, lastErr
}

func (c *Client) executeOnce(ctx context.Context, path string, body map[string]any) ([]byte, int, time.Duration, error) {
	payload, _ := json.Marshal(body)
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.cfg.APIKey)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<20))

	retryAfter := parseRetryAfter(res.Header.Get("Retry-After"))
	if res.StatusCode >= 400 {
		return nil, res.StatusCode, retryAfter, fmt.Errorf("status code: %d", res.StatusCode)
	}
	return b, res.StatusCode, retryAfter, nil
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func backoffDelay(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 1 * time.Second
	case 2:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func flattenPatent(raw map[string]any) core.SearchResult {
	r := core.SearchResult{
		ID:              strings.TrimSpace(str(raw["patent_id"])),
		Title:           strings.TrimSpace(str(raw["patent_title"])),
		Summary:         strings.TrimSpace(str(raw["patent_abstract"])),
		PublicationDate: strings.TrimSpace(str(raw["patent_date"])),
		FilingDate:      strings.TrimSpace(strFromPath(raw, "application", "filing_date")),
		Source:          "patentsview",
		Inventors:       flattenInventors(raw["inventors"]),
		Assignees:       flattenAssignees(raw["assignees"]),
	}
	return r
}

func flattenAssignees(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		m, _ := item.(map[string]any)
		name := strings.Join(strings.Fields(str(m["assignee_organization"])), " ")
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}

func flattenInventors(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range arr {
		if len(out) >= 10 {
			break
		}
		m, _ := item.(map[string]any)
		first := strings.TrimSpace(str(m["inventor_name_first"]))
		last := strings.TrimSpace(str(m["inventor_name_last"]))
		name := strings.TrimSpace(first + " " + last)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strFromPath(raw map[string]any, keys ...string) string {
	cur := any(raw)
	for _, key := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	s, _ := cur.(string)
	return s
}
