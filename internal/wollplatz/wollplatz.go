// Package wollplatz scrapes product data from wollplatz.de.
//
// Search results are served by the Sooqr widget, which renders client
// side. Listing items only carry the product id and link, so every hit
// costs a second navigation to the detail page where name, price and
// the spec table live.
package wollplatz

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/woolpilot/wool-pilot/internal/models"
	"github.com/woolpilot/wool-pilot/internal/ratelimit"
	"github.com/woolpilot/wool-pilot/internal/scrape"
)

// DefaultBaseURL is the production shop.
const DefaultBaseURL = "https://www.wollplatz.de"

// Site implements scrape.Site for wollplatz.de.
type Site struct {
	baseURL string
	limiter ratelimit.RateLimiter
	logger  *slog.Logger
}

// New creates a Site against DefaultBaseURL. The limiter paces the
// detail page loads and is shared across all concurrent attempts so
// the shop sees one polite client, not one per worker.
func New(limiter ratelimit.RateLimiter, logger *slog.Logger) *Site {
	return NewWithBaseURL(DefaultBaseURL, limiter, logger)
}

// NewWithBaseURL creates a Site against a custom base URL.
func NewWithBaseURL(baseURL string, limiter ratelimit.RateLimiter, logger *slog.Logger) *Site {
	if logger == nil {
		logger = slog.Default()
	}
	return &Site{
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: limiter,
		logger:  logger.With("component", "wollplatz"),
	}
}

// SearchURL builds the Sooqr search URL for a term. The query lives in
// the fragment, e.g. /?#sqr:(q%5BDrops%20Safran%5D).
func (s *Site) SearchURL(term string) string {
	return fmt.Sprintf("%s/?#sqr:(q%%5B%s%%5D)", s.baseURL, url.PathEscape(term))
}

// Extract reads the search results from page, then loads every hit's
// detail page through sess and parses the full record.
//
// A detail page that fails to load aborts the whole extraction: the
// session may be rate limited or poisoned, and a fresh attempt with a
// fresh session is cheaper than guessing. A detail page that loads but
// does not parse is skipped, unless none parse at all.
func (s *Site) Extract(ctx context.Context, sess scrape.Session, page scrape.Page) ([]models.Product, error) {
	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read search page: %w", err)
	}

	metas, err := ParseSearchResults(html, s.baseURL)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, nil
	}

	s.logger.Debug("search results parsed", "count", len(metas))

	products := make([]models.Product, 0, len(metas))
	for _, meta := range metas {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		detail, err := sess.Load(ctx, meta.URL)
		if err != nil {
			return nil, scrape.WrapError(scrape.KindNetwork, fmt.Errorf("failed to load product page %s: %w", meta.URL, err))
		}

		detailHTML, err := detail.Content()
		if err != nil {
			return nil, scrape.WrapError(scrape.KindNetwork, fmt.Errorf("failed to read product page %s: %w", meta.URL, err))
		}

		product, err := ParseProductPage(detailHTML, meta)
		if err != nil {
			s.logger.Warn("skipping unparseable product page", "url", meta.URL, "error", err)
			continue
		}

		products = append(products, *product)
	}

	if len(products) == 0 {
		return nil, fmt.Errorf("none of %d product pages parsed", len(metas))
	}

	return products, nil
}

// Challenge markers seen on interstitial pages. Matching is case
// insensitive against the page title and body.
var (
	challengeTitleMarkers = []string{
		"just a moment",
		"access denied",
		"attention required",
		"are you a robot",
	}
	challengeContentMarkers = []string{
		"cf-challenge",
		"checking your browser before accessing",
		"verify you are a human",
		"captcha",
	}
)

// IsBlocked reports whether page is a bot challenge instead of shop
// content.
func (s *Site) IsBlocked(ctx context.Context, page scrape.Page) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	title, err := page.Title()
	if err != nil {
		return false, fmt.Errorf("failed to read page title: %w", err)
	}
	lowerTitle := strings.ToLower(title)
	for _, marker := range challengeTitleMarkers {
		if strings.Contains(lowerTitle, marker) {
			s.logger.Warn("challenge page detected", "title", title, "marker", marker)
			return true, nil
		}
	}

	content, err := page.Content()
	if err != nil {
		return false, fmt.Errorf("failed to read page content: %w", err)
	}
	lowerContent := strings.ToLower(content)
	for _, marker := range challengeContentMarkers {
		if strings.Contains(lowerContent, marker) {
			s.logger.Warn("challenge page detected", "url", page.URL(), "marker", marker)
			return true, nil
		}
	}

	return false, nil
}
