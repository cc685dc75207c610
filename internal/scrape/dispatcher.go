package scrape

import (
	"context"
	"log/slog"
	"sync"
)

// TermRunner drives a single term to its outcome. Satisfied by Supervisor.
type TermRunner interface {
	Run(ctx context.Context, term string) Outcome
}

// Dispatcher fans search terms out over a bounded worker pool. Terms are
// fully isolated: one term's fatal outcome never cancels or delays its
// siblings, and the caller always gets an outcome per distinct term.
type Dispatcher struct {
	runner  TermRunner
	workers int
	logger  *slog.Logger
}

// NewDispatcher builds a pool of the given width. Browser sessions are
// heavy, so the width defaults low rather than high.
func NewDispatcher(runner TermRunner, workers int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	return &Dispatcher{
		runner:  runner,
		workers: workers,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Run processes every distinct term and returns the outcome map keyed by
// term. Cancelling ctx stops new terms from starting; terms that never
// started still appear in the map, marked fatal with the context error.
func (d *Dispatcher) Run(ctx context.Context, terms []string) map[string]Outcome {
	queue := dedupe(terms)
	if len(queue) == 0 {
		return map[string]Outcome{}
	}

	jobs := make(chan string, len(queue))
	results := make(chan Outcome, len(queue))

	workers := d.workers
	if workers > len(queue) {
		workers = len(queue)
	}

	d.logger.Info("dispatching terms", "terms", len(queue), "workers", workers)

	var wg sync.WaitGroup
	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go d.worker(ctx, w, jobs, results, &wg)
	}

	for _, term := range queue {
		jobs <- term
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make(map[string]Outcome, len(queue))
	for outcome := range results {
		outcomes[outcome.Term] = outcome
	}

	return outcomes
}

// worker consumes terms until the queue drains. A cancelled job still
// drains the queue so every term gets accounted for, it just stops
// running them.
func (d *Dispatcher) worker(ctx context.Context, id int, jobs <-chan string, results chan<- Outcome, wg *sync.WaitGroup) {
	defer wg.Done()

	for term := range jobs {
		if err := ctx.Err(); err != nil {
			results <- Outcome{Term: term, Status: StatusFatal, LastErr: err}
			continue
		}

		d.logger.Debug("worker picked term", "worker", id, "term", term)
		results <- d.runner.Run(ctx, term)
	}
}

func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
