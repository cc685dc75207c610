package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/woolpilot/wool-pilot/internal/browser"
	"github.com/woolpilot/wool-pilot/internal/config"
	"github.com/woolpilot/wool-pilot/internal/database"
	"github.com/woolpilot/wool-pilot/internal/events"
	"github.com/woolpilot/wool-pilot/internal/ratelimit"
	"github.com/woolpilot/wool-pilot/internal/scrape"
	"github.com/woolpilot/wool-pilot/internal/storage"
	"github.com/woolpilot/wool-pilot/internal/wollplatz"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		termsFlag = flag.String("terms", "", "Comma-separated search terms (overrides SCRAPER_SEARCH_TERMS)")
		termsFile = flag.String("file", "", "File containing search terms, one per line")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger := config.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	terms, err := resolveTerms(*termsFlag, *termsFile, cfg.Scraper.SearchTerms)
	if err != nil {
		logger.Error("failed to resolve search terms", "error", err)
		return 1
	}
	if len(terms) == 0 {
		logger.Error("no search terms configured")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := scrape.NewMetrics()

	var metricsSrv *http.Server
	if cfg.Scraper.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:    cfg.Scraper.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			logger.Info("metrics server listening", "addr", cfg.Scraper.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	var (
		store  storage.Store
		sink   scrape.EventSink
		outbox *database.OutboxRepository
	)

	switch cfg.Storage.Backend {
	case config.StorageBackendPostgres:
		dbCfg := database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		}
		if err := database.Migrate(dbCfg, cfg.Database.MigrationsDir); err != nil {
			logger.Error("failed to run migrations", "error", err)
			return 1
		}
		db, err := database.New(ctx, dbCfg)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return 1
		}
		defer db.Close()

		store = database.NewProductRepo(db)
		sink = events.NewPublisher(db, logger)
		outbox = database.NewOutboxRepository(db)

		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			return 1
		}

		relay := database.NewRelay(db, redisClient, logger, database.RelayConfig{
			PollInterval: cfg.Redis.RelayInterval,
			BatchSize:    cfg.Redis.RelayBatchSize,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox relay stopped", "error", err)
			}
		}()
	case config.StorageBackendFile:
		fileStore, err := storage.NewFileStore(cfg.Storage.FilePath)
		if err != nil {
			logger.Error("failed to open file store", "error", err, "path", cfg.Storage.FilePath)
			return 1
		}
		store = fileStore
	default:
		logger.Error("unknown storage backend", "backend", cfg.Storage.Backend)
		return 1
	}

	b, err := browser.New(browserOptions(cfg.Browser))
	if err != nil {
		logger.Error("failed to start browser", "error", err)
		return 1
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Error("failed to close browser", "error", err)
		}
	}()

	limiter := ratelimit.NewSimpleRateLimiter(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax)
	site := wollplatz.New(limiter, logger)
	committer := scrape.NewCommitter(store, sink, logger)
	supervisor := scrape.NewSupervisor(b, site, committer, scrape.SupervisorConfig{
		MaxAttempts: cfg.Scraper.MaxAttempts,
		RetryDelay:  cfg.Scraper.RetryDelay,
		Attempt: scrape.AttemptConfig{
			NavigateTimeout: cfg.Scraper.NavigateTimeout,
			ExtractTimeout:  cfg.Scraper.ExtractTimeout,
		},
	}, metrics, logger)
	dispatcher := scrape.NewDispatcher(supervisor, cfg.Scraper.Workers, logger)

	logger.Info("starting scrape",
		"terms", len(terms),
		"workers", cfg.Scraper.Workers,
		"max_attempts", cfg.Scraper.MaxAttempts,
		"backend", cfg.Storage.Backend,
	)
	start := time.Now()

	outcomes := dispatcher.Run(ctx, terms)

	exitCode := reportOutcomes(logger, outcomes, time.Since(start))

	if outbox != nil {
		reportOutbox(logger, outbox)
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down metrics server", "error", err)
		}
	}

	return exitCode
}

// reportOutcomes logs one line per term plus a run summary and returns the
// process exit code: 1 when any term ended fatal, 0 otherwise.
func reportOutcomes(logger *slog.Logger, outcomes map[string]scrape.Outcome, elapsed time.Duration) int {
	terms := make([]string, 0, len(outcomes))
	for term := range outcomes {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	var succeeded, exhausted, fatal, records int
	for _, term := range terms {
		outcome := outcomes[term]
		attrs := []any{
			"term", outcome.Term,
			"status", outcome.Status,
			"attempts", outcome.Attempts,
			"records_written", outcome.RecordsWritten,
		}
		if outcome.LastErr != nil {
			attrs = append(attrs, "last_error", outcome.LastErr.Error())
		}

		switch outcome.Status {
		case scrape.StatusSucceeded:
			succeeded++
			records += outcome.RecordsWritten
			logger.Info("term finished", attrs...)
		case scrape.StatusExhausted:
			exhausted++
			logger.Warn("term exhausted retries", attrs...)
		default:
			fatal++
			logger.Error("term failed", attrs...)
		}
	}

	logger.Info("scrape finished",
		"duration", elapsed.Round(time.Millisecond).String(),
		"terms", len(outcomes),
		"succeeded", succeeded,
		"exhausted", exhausted,
		"fatal", fatal,
		"records_written", records,
	)

	if fatal > 0 {
		return 1
	}
	return 0
}

// reportOutbox logs how much the relay still has to drain so operators know
// whether it is safe to stop the process.
func reportOutbox(logger *slog.Logger, outbox *database.OutboxRepository) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pending, err := outbox.PendingCount(ctx)
	if err != nil {
		logger.Error("failed to count pending outbox events", "error", err)
		return
	}
	dead, err := outbox.DeadLetterCount(ctx)
	if err != nil {
		logger.Error("failed to count dead letter events", "error", err)
		return
	}
	logger.Info("outbox status", "pending", pending, "dead_letter", dead)
}

// resolveTerms picks search terms by precedence: the -terms flag wins, then
// -terms-file, then the configured defaults.
func resolveTerms(termsFlag, termsFile string, configured []string) ([]string, error) {
	if termsFlag != "" {
		return splitTerms(termsFlag), nil
	}
	if termsFile != "" {
		return readTermsFile(termsFile)
	}
	return configured, nil
}

func splitTerms(s string) []string {
	parts := strings.Split(s, ",")
	terms := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// readTermsFile reads one term per line, skipping blanks and # comments.
func readTermsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open terms file: %w", err)
	}
	defer f.Close()

	var terms []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read terms file: %w", err)
	}
	return terms, nil
}

func browserOptions(cfg config.BrowserConfig) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Headless
	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout
	}
	if cfg.ViewportWidth > 0 {
		opts.ViewportWidth = cfg.ViewportWidth
	}
	if cfg.ViewportHeight > 0 {
		opts.ViewportHeight = cfg.ViewportHeight
	}
	if cfg.AcceptLanguage != "" {
		opts.AcceptLanguage = cfg.AcceptLanguage
	}
	if cfg.TimezoneID != "" {
		opts.TimezoneID = cfg.TimezoneID
	}
	if cfg.Locale != "" {
		opts.Locale = cfg.Locale
	}
	if len(cfg.UserAgents) > 0 {
		opts.UserAgents = cfg.UserAgents
	}
	if cfg.Proxy != "" {
		opts.ProxyServer = cfg.Proxy
	}
	return opts
}
