package scrape

import (
	"context"

	"github.com/woolpilot/wool-pilot/internal/models"
)

// Page is a loaded document inside a browser session.
type Page interface {
	URL() string
	Title() (string, error)
	Content() (string, error)
}

// Session is one isolated browser context. Sessions are single-attempt:
// the supervisor opens a fresh one per attempt and closes it afterwards
// so challenge state never leaks into a retry.
type Session interface {
	Load(ctx context.Context, url string) (Page, error)
	Close() error
}

// SessionFactory hands out fresh sessions.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// Extractor turns a search landing page into product records. It gets
// the owning session so it can follow detail links within the same
// isolated context.
type Extractor interface {
	Extract(ctx context.Context, sess Session, page Page) ([]models.Product, error)
}

// ChallengeDetector reports whether a loaded page is a bot challenge
// rather than real content.
type ChallengeDetector interface {
	IsBlocked(ctx context.Context, page Page) (bool, error)
}

// Site bundles everything the engine needs to know about one shop.
type Site interface {
	SearchURL(term string) string
	Extractor
	ChallengeDetector
}

// Upserter is the narrow persistence port the committer writes through.
type Upserter interface {
	Upsert(ctx context.Context, product *models.Product) error
}

// EventSink is notified after a record lands in storage. Sink failures
// are logged by the committer, never surfaced as scrape failures.
type EventSink interface {
	ProductUpserted(ctx context.Context, product *models.Product) error
}
