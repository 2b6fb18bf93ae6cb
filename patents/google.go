package patents

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const googlePatentsBaseURL = "https://patents.google.com/patent"

var patentNumberRe = regexp.MustCompile(`[^A-Z0-9]`)

// GoogleScraper fetches claim text from Google Patents with a headless
// browser. It is a fallback for records whose claims are missing from the
// PatentsView claims endpoint.
type GoogleScraper struct {
	timeout time.Duration
}

// NewGoogleScraper creates a scraper with the given per-fetch timeout.
func NewGoogleScraper(timeout time.Duration) *GoogleScraper {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GoogleScraper{timeout: timeout}
}

// Claims navigates to the patent page and extracts the individual claim
// texts. An empty slice means the page rendered but listed no claims.
func (g *GoogleScraper) Claims(ctx context.Context, patentNumber string) ([]string, error) {
	clean := cleanPatentNumber(patentNumber)
	if clean == "" {
		return nil, errors.New("empty patent number")
	}
	url := fmt.Sprintf("%s/%s/en", googlePatentsBaseURL, clean)

	timeoutCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.NoSandbox,
			chromedp.DisableGPU,
			chromedp.Flag("disable-dev-shm-usage", true),
		)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var texts []string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(
			`Array.from(document.querySelectorAll("section#claims .claim-text")).map(e => e.textContent)`,
			&texts,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch google patents claims: %w", err)
	}

	out := make([]string, 0, len(texts))
	for _, t := range texts {
		t = strings.Join(strings.Fields(t), " ")
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// cleanPatentNumber normalizes user supplied patent numbers to the form
// Google Patents expects, e.g. "US 10,123,456 B2" -> "US10123456B2".
func cleanPatentNumber(in string) string {
	upper := strings.ToUpper(strings.TrimSpace(in))
	clean := patentNumberRe.ReplaceAllString(upper, "")
	if clean != "" && !strings.HasPrefix(clean, "US") && clean[0] >= '0' && clean[0] <= '9' {
		clean = "US" + clean
	}
	return clean
}
