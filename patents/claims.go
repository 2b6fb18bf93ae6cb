package patents

import (
	"context"
	"errors"
)

// ClaimsSource resolves full claim text for a patent. It asks the
// PatentsView claims endpoint first and falls back to scraping Google
// Patents when the endpoint has no text for the record.
type ClaimsSource struct {
	client  *Client
	scraper *GoogleScraper
}

// NewClaimsSource creates a claims source. Either argument may be nil; a
// source with neither configured errors on every lookup.
func NewClaimsSource(client *Client, scraper *GoogleScraper) *ClaimsSource {
	return &ClaimsSource{client: client, scraper: scraper}
}

// Claims returns the plain claim texts for a patent.
func (s *ClaimsSource) Claims(ctx context.Context, patentNumber string) ([]string, error) {
	if s.client != nil {
		claims, err := s.client.Claims(ctx, patentNumber)
		if err == nil && len(claims) > 0 {
			out := make([]string, 0, len(claims))
			for _, c := range claims {
				out = append(out, c.Text)
			}
			return out, nil
		}
	}
	if s.scraper == nil {
		return nil, errors.New("no claims source configured")
	}
	return s.scraper.Claims(ctx, patentNumber)
}
