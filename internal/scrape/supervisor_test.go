package scrape

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woolpilot/wool-pilot/internal/models"
)

func testSupervisorConfig(maxAttempts int, delay time.Duration) SupervisorConfig {
	return SupervisorConfig{
		MaxAttempts: maxAttempts,
		RetryDelay:  delay,
		Attempt:     testAttemptConfig(),
	}
}

// scriptedSite fails extraction transiently until attempt succeedOn,
// then returns the given records.
type scriptedSite struct {
	fakeSite
	mu        sync.Mutex
	calls     int
	succeedOn int
	records   []models.Product
	failKind  Kind
}

func newScriptedSite(succeedOn int, failKind Kind, records ...models.Product) *scriptedSite {
	s := &scriptedSite{succeedOn: succeedOn, failKind: failKind, records: records}
	s.extractFn = func(ctx context.Context, sess Session, page Page) ([]models.Product, error) {
		s.mu.Lock()
		s.calls++
		call := s.calls
		s.mu.Unlock()
		if call < s.succeedOn {
			return nil, Errorf(s.failKind, "scripted failure on call %d", call)
		}
		return s.records, nil
	}
	return s
}

func newSupervisor(site Site, factory SessionFactory, store Upserter, cfg SupervisorConfig) *Supervisor {
	logger := slog.Default()
	committer := NewCommitter(store, nil, logger)
	return NewSupervisor(factory, site, committer, cfg, nil, logger)
}

func TestSupervisorSucceedsFirstAttempt(t *testing.T) {
	store := newMemStore()
	factory := &fakeFactory{}
	site := newScriptedSite(1, KindNetwork, testProduct("18098", "Stylecraft Special DK"))

	sup := newSupervisor(site, factory, store, testSupervisorConfig(4, time.Millisecond))
	outcome := sup.Run(context.Background(), "stylecraft special dk")

	assert.Equal(t, StatusSucceeded, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 1, outcome.RecordsWritten)
	assert.NoError(t, outcome.LastErr)

	stored, ok := store.get("Stylecraft Special DK")
	require.True(t, ok)
	assert.Equal(t, "18098", stored.Meta.ID)
}

func TestSupervisorRetriesTransientThenCommitsOnlyWinningAttempt(t *testing.T) {
	store := newMemStore()
	factory := &fakeFactory{}
	site := newScriptedSite(3, KindNetwork, testProduct("4647", "Drops Safran"))

	sup := newSupervisor(site, factory, store, testSupervisorConfig(4, time.Millisecond))
	outcome := sup.Run(context.Background(), "drops safran")

	assert.Equal(t, StatusSucceeded, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 1, outcome.RecordsWritten)

	// Only the winning attempt's records reach storage.
	assert.Equal(t, 1, store.upserts)
	assert.Equal(t, 1, store.count())
}

func TestSupervisorExhaustsAttemptBudget(t *testing.T) {
	store := newMemStore()
	factory := &fakeFactory{}
	site := newScriptedSite(99, KindBotChallenge)

	sup := newSupervisor(site, factory, store, testSupervisorConfig(4, time.Millisecond))
	outcome := sup.Run(context.Background(), "drops safran")

	assert.Equal(t, StatusExhausted, outcome.Status)
	assert.Equal(t, 4, outcome.Attempts, "one initial attempt plus three retries")
	assert.Equal(t, 0, outcome.RecordsWritten)
	require.Error(t, outcome.LastErr)
	assert.Equal(t, KindBotChallenge, KindOf(outcome.LastErr))
	assert.Equal(t, 0, store.upserts)
}

func TestSupervisorSessionPerAttempt(t *testing.T) {
	store := newMemStore()
	factory := &fakeFactory{}
	site := newScriptedSite(3, KindExtraction, testProduct("4647", "Drops Safran"))

	sup := newSupervisor(site, factory, store, testSupervisorConfig(4, time.Millisecond))
	outcome := sup.Run(context.Background(), "drops safran")

	assert.Equal(t, StatusSucceeded, outcome.Status)
	assert.Equal(t, 3, factory.created(), "every attempt gets its own session")
	assert.True(t, factory.allClosed(), "every session is closed after its attempt")
}

func TestSupervisorFatalAbortsImmediately(t *testing.T) {
	store := newMemStore()
	factory := &fakeFactory{}
	site := &fakeSite{
		extractFn: func(ctx context.Context, sess Session, page Page) ([]models.Product, error) {
			return nil, Errorf(KindValidation, "schema drift")
		},
	}

	sup := newSupervisor(site, factory, store, testSupervisorConfig(4, time.Minute))
	start := time.Now()
	outcome := sup.Run(context.Background(), "drops safran")

	assert.Equal(t, StatusFatal, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Less(t, time.Since(start), time.Second, "fatal errors must not wait out the retry delay")
	assert.Equal(t, 0, store.upserts)
}

func TestSupervisorSessionFailureIsRetried(t *testing.T) {
	store := newMemStore()
	factory := &fakeFactory{err: assert.AnError}

	sup := newSupervisor(&fakeSite{}, factory, store, testSupervisorConfig(4, time.Millisecond))
	outcome := sup.Run(context.Background(), "drops safran")

	// Session creation failures are classified network and retried.
	assert.Equal(t, StatusExhausted, outcome.Status)
	assert.Equal(t, KindNetwork, KindOf(outcome.LastErr))
}

func TestSupervisorEmptyTermIsConfigurationError(t *testing.T) {
	store := newMemStore()
	factory := &fakeFactory{}

	sup := newSupervisor(&fakeSite{}, factory, store, testSupervisorConfig(4, time.Millisecond))
	outcome := sup.Run(context.Background(), "   ")

	assert.Equal(t, StatusFatal, outcome.Status)
	assert.Equal(t, 0, outcome.Attempts)
	assert.Equal(t, KindConfiguration, KindOf(outcome.LastErr))
	assert.Equal(t, 0, factory.created())
}

func TestSupervisorConstantBackoffBetweenAttempts(t *testing.T) {
	store := newMemStore()
	factory := &fakeFactory{}
	site := newScriptedSite(99, KindNetwork)

	delay := 40 * time.Millisecond
	sup := newSupervisor(site, factory, store, testSupervisorConfig(3, delay))

	start := time.Now()
	outcome := sup.Run(context.Background(), "drops safran")
	elapsed := time.Since(start)

	assert.Equal(t, StatusExhausted, outcome.Status)
	// Two waits between three attempts, each the constant delay.
	assert.GreaterOrEqual(t, elapsed, 2*delay)
	assert.Less(t, elapsed, 10*delay)
}

func TestSupervisorCancelDuringBackoff(t *testing.T) {
	store := newMemStore()
	factory := &fakeFactory{}
	site := newScriptedSite(99, KindNetwork)

	sup := newSupervisor(site, factory, store, testSupervisorConfig(4, time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcome := sup.Run(ctx, "drops safran")

	assert.Equal(t, StatusFatal, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
	assert.ErrorIs(t, outcome.LastErr, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must cut the backoff wait short")
}

func TestSupervisorStorageRejectsEverything(t *testing.T) {
	store := newMemStore()
	store.err = assert.AnError
	factory := &fakeFactory{}
	site := newScriptedSite(1, KindNetwork, testProduct("4647", "Drops Safran"))

	sup := newSupervisor(site, factory, store, testSupervisorConfig(4, time.Millisecond))
	outcome := sup.Run(context.Background(), "drops safran")

	assert.Equal(t, StatusFatal, outcome.Status)
	assert.Equal(t, 0, outcome.RecordsWritten)
	require.Error(t, outcome.LastErr)
	assert.Equal(t, KindStorage, KindOf(outcome.LastErr))
}

func TestSupervisorPartialStorageFailureStillSucceeds(t *testing.T) {
	store := newMemStore()
	store.failFor = map[string]error{"Drops Safran": assert.AnError}
	factory := &fakeFactory{}
	site := newScriptedSite(1, KindNetwork,
		testProduct("4647", "Drops Safran"),
		testProduct("18098", "Stylecraft Special DK"),
	)

	sup := newSupervisor(site, factory, store, testSupervisorConfig(4, time.Millisecond))
	outcome := sup.Run(context.Background(), "wolle")

	assert.Equal(t, StatusSucceeded, outcome.Status)
	assert.Equal(t, 1, outcome.RecordsWritten)
	require.Error(t, outcome.LastErr, "the failed record surfaces on the outcome")

	_, ok := store.get("Stylecraft Special DK")
	assert.True(t, ok)
}
