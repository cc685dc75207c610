package scrape

import (
	"context"
	"log/slog"
	"time"

	"github.com/woolpilot/wool-pilot/internal/models"
)

// State tracks how far an attempt made it through its steps.
type State int

const (
	StateStart State = iota
	StateNavigated
	StateChallengeChecked
	StateExtracted
	StateValidated
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateNavigated:
		return "navigated"
	case StateChallengeChecked:
		return "challenge_checked"
	case StateExtracted:
		return "extracted"
	case StateValidated:
		return "validated"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// AttemptConfig bounds the individual steps of one attempt. A step that
// exceeds its budget fails transiently instead of hanging the term.
type AttemptConfig struct {
	NavigateTimeout time.Duration
	ExtractTimeout  time.Duration
}

// Attempt is a single pass over one search term: navigate to the search
// page, check for a challenge, extract records, validate them. It holds
// one session and never retries internally; retrying is the supervisor's
// job, with a fresh session.
type Attempt struct {
	term   string
	number int
	site   Site
	sess   Session
	cfg    AttemptConfig
	logger *slog.Logger

	state   State
	started time.Time
	ended   time.Time
}

// NewAttempt prepares attempt number n for term on the given session.
func NewAttempt(term string, n int, site Site, sess Session, cfg AttemptConfig, logger *slog.Logger) *Attempt {
	return &Attempt{
		term:   term,
		number: n,
		site:   site,
		sess:   sess,
		cfg:    cfg,
		logger: logger.With("component", "attempt", "term", term, "attempt", n),
		state:  StateStart,
	}
}

// State returns the last state the attempt reached.
func (a *Attempt) State() State {
	return a.state
}

// Duration reports how long Run took, or the time elapsed so far when
// the attempt is still in flight.
func (a *Attempt) Duration() time.Duration {
	if a.started.IsZero() {
		return 0
	}
	if a.ended.IsZero() {
		return time.Since(a.started)
	}
	return a.ended.Sub(a.started)
}

// Run executes the steps in order and returns the validated records.
// Cancelling ctx lets the step in flight finish under its own timeout
// and stops the attempt before the next one; the context error is
// returned as-is so the caller can tell cancellation from failure.
func (a *Attempt) Run(ctx context.Context) ([]models.Product, error) {
	a.started = time.Now()
	defer func() { a.ended = time.Now() }()

	url := a.site.SearchURL(a.term)

	a.logger.Debug("navigating", "url", url)
	page, err := a.loadSearchPage(ctx, url)
	if err != nil {
		a.state = StateFailed
		return nil, WrapError(KindNetwork, err)
	}
	a.state = StateNavigated

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blocked, err := a.checkChallenge(ctx, page)
	if err != nil {
		a.state = StateFailed
		return nil, WrapError(KindNetwork, err)
	}
	if blocked {
		a.state = StateFailed
		a.logger.Warn("challenge page served", "url", url)
		return nil, Errorf(KindBotChallenge, "challenge page served for %q", a.term)
	}
	a.state = StateChallengeChecked

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := a.extract(ctx, page)
	if err != nil {
		a.state = StateFailed
		return nil, WrapError(KindExtraction, err)
	}
	a.state = StateExtracted
	a.logger.Debug("extracted records", "count", len(records))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	valid := a.validate(records)
	if len(valid) == 0 {
		a.state = StateFailed
		return nil, Errorf(KindEmptyResult, "no valid records for %q", a.term)
	}
	a.state = StateValidated

	return valid, nil
}

// MarkDone records that the attempt's records were committed.
func (a *Attempt) MarkDone() {
	a.state = StateDone
}

func (a *Attempt) loadSearchPage(ctx context.Context, url string) (Page, error) {
	stepCtx, cancel := a.stepContext(ctx, a.cfg.NavigateTimeout)
	defer cancel()

	return a.sess.Load(stepCtx, url)
}

func (a *Attempt) checkChallenge(ctx context.Context, page Page) (bool, error) {
	stepCtx, cancel := a.stepContext(ctx, a.cfg.NavigateTimeout)
	defer cancel()

	return a.site.IsBlocked(stepCtx, page)
}

func (a *Attempt) extract(ctx context.Context, page Page) ([]models.Product, error) {
	stepCtx, cancel := a.stepContext(ctx, a.cfg.ExtractTimeout)
	defer cancel()

	return a.site.Extract(stepCtx, a.sess, page)
}

// stepContext detaches the step from job cancellation but caps it with
// the step's own deadline, so a cancelled job still lets the current
// step finish while a stuck page cannot wedge the attempt.
func (a *Attempt) stepContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.WithoutCancel(ctx))
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// validate drops records that violate the persistence invariants and
// logs what was dropped. Rejections are per record: one bad record
// never discards its siblings.
func (a *Attempt) validate(records []models.Product) []models.Product {
	valid := records[:0]
	for i := range records {
		if problems := records[i].Validate(); len(problems) > 0 {
			a.logger.Warn("dropping invalid record",
				"name", records[i].Name,
				"problems", problems)
			continue
		}
		valid = append(valid, records[i])
	}
	return valid
}
