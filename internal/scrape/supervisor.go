package scrape

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/woolpilot/wool-pilot/internal/models"
)

// Status is the terminal verdict for one search term.
type Status string

const (
	// StatusSucceeded means an attempt validated and its records were stored.
	StatusSucceeded Status = "succeeded"
	// StatusExhausted means every allowed attempt failed transiently.
	StatusExhausted Status = "exhausted"
	// StatusFatal means the term was aborted without using the retry budget.
	StatusFatal Status = "fatal"
)

// Outcome summarizes how one term ended.
type Outcome struct {
	Term           string `json:"term"`
	Status         Status `json:"status"`
	Attempts       int    `json:"attempts"`
	RecordsWritten int    `json:"records_written"`
	LastErr        error  `json:"-"`
}

// SupervisorConfig bounds the retry loop. MaxAttempts counts the first
// try, so 4 means one initial attempt plus three retries. The delay
// between attempts is constant; pacing games live in the rate limiter,
// not here, so retry timing stays predictable.
type SupervisorConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Attempt     AttemptConfig
}

// Supervisor drives one term to a terminal outcome: run an attempt on a
// fresh session, commit immediately on success, retry transient failures
// after a constant delay, abort on fatal ones.
type Supervisor struct {
	sessions  SessionFactory
	site      Site
	committer *Committer
	cfg       SupervisorConfig
	metrics   *Metrics
	logger    *slog.Logger
}

func NewSupervisor(sessions SessionFactory, site Site, committer *Committer, cfg SupervisorConfig, metrics *Metrics, logger *slog.Logger) *Supervisor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Supervisor{
		sessions:  sessions,
		site:      site,
		committer: committer,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With("component", "supervisor"),
	}
}

// Run executes attempts for term until success, a fatal error, or the
// attempt budget runs out. Records from a failed attempt are never
// committed; a validated attempt commits before Run returns.
func (s *Supervisor) Run(ctx context.Context, term string) Outcome {
	if strings.TrimSpace(term) == "" {
		return s.finish(Outcome{
			Term:    term,
			Status:  StatusFatal,
			LastErr: Errorf(KindConfiguration, "empty search term"),
		})
	}

	var lastErr error

	for n := 1; n <= s.cfg.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return s.finish(Outcome{Term: term, Status: StatusFatal, Attempts: n - 1, LastErr: err})
		}

		s.metrics.IncAttempt()
		attempt, records, err := s.attempt(ctx, term, n)

		if err == nil {
			written, commitErr := s.committer.Commit(ctx, records)
			s.metrics.AddRecords(written)
			if written == 0 {
				// The scrape was fine; storage rejected every record.
				// Retrying the scrape cannot fix that.
				return s.finish(Outcome{Term: term, Status: StatusFatal, Attempts: n, LastErr: commitErr})
			}
			attempt.MarkDone()
			s.logger.Info("term succeeded",
				"term", term,
				"attempt", n,
				"records_written", written)
			return s.finish(Outcome{
				Term:           term,
				Status:         StatusSucceeded,
				Attempts:       n,
				RecordsWritten: written,
				LastErr:        commitErr,
			})
		}

		if ctx.Err() != nil {
			return s.finish(Outcome{Term: term, Status: StatusFatal, Attempts: n, LastErr: err})
		}

		kind := KindOf(err)
		s.metrics.IncFailure(kind)
		lastErr = err

		state := StateStart
		if attempt != nil {
			state = attempt.State()
		}

		if !kind.Transient() {
			s.logger.Error("term aborted",
				"term", term,
				"attempt", n,
				"kind", string(kind),
				"state", state.String(),
				"error", err)
			return s.finish(Outcome{Term: term, Status: StatusFatal, Attempts: n, LastErr: err})
		}

		s.logger.Warn("attempt failed",
			"term", term,
			"attempt", n,
			"max_attempts", s.cfg.MaxAttempts,
			"kind", string(kind),
			"state", state.String(),
			"error", err)

		if n == s.cfg.MaxAttempts {
			break
		}

		s.metrics.IncRetry()
		select {
		case <-ctx.Done():
			return s.finish(Outcome{Term: term, Status: StatusFatal, Attempts: n, LastErr: ctx.Err()})
		case <-time.After(s.cfg.RetryDelay):
		}
	}

	s.logger.Error("term exhausted",
		"term", term,
		"attempts", s.cfg.MaxAttempts,
		"error", lastErr)
	return s.finish(Outcome{
		Term:     term,
		Status:   StatusExhausted,
		Attempts: s.cfg.MaxAttempts,
		LastErr:  lastErr,
	})
}

// attempt runs one pass on its own session. The session is closed before
// returning no matter how the attempt went, so a retry never inherits
// challenge state from this one. The attempt is returned alongside the
// records so the caller can finish its state once the commit lands.
func (s *Supervisor) attempt(ctx context.Context, term string, n int) (*Attempt, []models.Product, error) {
	sess, err := s.sessions.NewSession(ctx)
	if err != nil {
		return nil, nil, WrapError(KindNetwork, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			s.logger.Warn("session close failed", "term", term, "attempt", n, "error", cerr)
		}
	}()

	attempt := NewAttempt(term, n, s.site, sess, s.cfg.Attempt, s.logger)

	records, err := attempt.Run(ctx)
	s.metrics.ObserveAttempt(attempt.Duration())

	return attempt, records, err
}

func (s *Supervisor) finish(o Outcome) Outcome {
	s.metrics.IncOutcome(o.Status)
	return o
}
