package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threatradar/threatradar/internal/correlation"
	"github.com/threatradar/threatradar/internal/enrichment"
	"github.com/threatradar/threatradar/internal/feeds"
	"github.com/threatradar/threatradar/internal/ingestion"
	"github.com/threatradar/threatradar/internal/metrics"
	"github.com/threatradar/threatradar/internal/models"
	"github.com/threatradar/threatradar/internal/store"
)

// Triggers distinguish why a cycle ran.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// RefreshScheduler drives periodic and on-demand refresh cycles across all
// configured feeds. At most one cycle is in flight at a time; triggers
// arriving while one runs are coalesced into an acknowledgment.
type RefreshScheduler struct {
	connectors []feeds.Connector
	normalizer *ingestion.Normalizer
	store      *store.MemoryStore
	correlator *correlation.Correlator
	repo       store.Repository
	enricher   enrichment.Enricher
	collector  *metrics.Collector
	logger     *slog.Logger

	interval     time.Duration
	fetchTimeout time.Duration
	maxPerFeed   int
	retryPolicy  feeds.RetryPolicy

	stopChan chan struct{}

	mu          sync.Mutex
	inFlight    bool
	lastCycle   *models.RefreshCycle
	lastSummary string
}

// Options carries the scheduler's collaborators and tuning. Repo, Enricher
// and Collector are optional.
type Options struct {
	Connectors   []feeds.Connector
	Normalizer   *ingestion.Normalizer
	Store        *store.MemoryStore
	Correlator   *correlation.Correlator
	Repo         store.Repository
	Enricher     enrichment.Enricher
	Collector    *metrics.Collector
	Logger       *slog.Logger
	Interval     time.Duration
	FetchTimeout time.Duration
	MaxPerFeed   int
}

// NewRefreshScheduler creates a scheduler. It does not start any work.
func NewRefreshScheduler(opts Options) *RefreshScheduler {
	return &RefreshScheduler{
		connectors:   opts.Connectors,
		normalizer:   opts.Normalizer,
		store:        opts.Store,
		correlator:   opts.Correlator,
		repo:         opts.Repo,
		enricher:     opts.Enricher,
		collector:    opts.Collector,
		logger:       opts.Logger,
		interval:     opts.Interval,
		fetchTimeout: opts.FetchTimeout,
		maxPerFeed:   opts.MaxPerFeed,
		retryPolicy:  feeds.DefaultRetryPolicy(),
		stopChan:     make(chan struct{}),
	}
}

// Start begins the scheduler loop. It blocks until Stop is called or the
// context is cancelled.
func (s *RefreshScheduler) Start(ctx context.Context) {
	s.logger.Info("Starting refresh scheduler", "interval", s.interval, "feeds", len(s.connectors))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run once immediately on start
	s.RunCycle(ctx, TriggerScheduled)

	for {
		select {
		case <-ticker.C:
			s.RunCycle(ctx, TriggerScheduled)
		case <-s.stopChan:
			s.logger.Info("Refresh scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Refresh scheduler stopping due to context cancellation")
			return
		}
	}
}

// Stop stops the scheduler loop.
func (s *RefreshScheduler) Stop() {
	close(s.stopChan)
}

// TriggerRefresh starts an on-demand cycle in the background. It returns
// false when a cycle is already running, in which case no new cycle is
// queued; callers treat that as a successful coalesced acknowledgment.
func (s *RefreshScheduler) TriggerRefresh(ctx context.Context) bool {
	if !s.begin() {
		s.logger.Info("Refresh trigger coalesced, cycle already in flight")
		return false
	}
	go func() {
		defer s.end()
		s.runCycleLocked(ctx, TriggerManual)
	}()
	return true
}

// RunCycle executes one full refresh cycle synchronously, unless a cycle is
// already in flight.
func (s *RefreshScheduler) RunCycle(ctx context.Context, trigger string) bool {
	if !s.begin() {
		s.logger.Info("Refresh skipped, cycle already in flight", "trigger", trigger)
		return false
	}
	defer s.end()
	s.runCycleLocked(ctx, trigger)
	return true
}

// LastCycle returns the most recently completed cycle summary, if any.
func (s *RefreshScheduler) LastCycle() *models.RefreshCycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCycle == nil {
		return nil
	}
	copied := *s.lastCycle
	copied.Outcomes = append([]models.FeedOutcome(nil), s.lastCycle.Outcomes...)
	return &copied
}

// LastSummary returns the analyst briefing generated after the most recent
// cycle, or empty if none has completed.
func (s *RefreshScheduler) LastSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSummary
}

func (s *RefreshScheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

func (s *RefreshScheduler) end() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// runCycleLocked performs the cycle. The in-flight gate must be held.
func (s *RefreshScheduler) runCycleLocked(ctx context.Context, trigger string) {
	started := time.Now().UTC()
	cycleID := uuid.NewString()
	s.logger.Info("Refresh cycle starting", "cycle_id", cycleID, "trigger", trigger)

	outcomes := make([]models.FeedOutcome, len(s.connectors))

	// Feeds fetch and merge independently; the store serializes the actual
	// mutations. One feed's failure never blocks its siblings.
	var wg sync.WaitGroup
	for i, connector := range s.connectors {
		wg.Add(1)
		go func(i int, connector feeds.Connector) {
			defer wg.Done()
			outcomes[i] = s.refreshFeed(ctx, connector)
		}(i, connector)
	}
	wg.Wait()

	correlated := s.correlate()

	finished := time.Now().UTC()
	cycle := models.RefreshCycle{
		CycleID:    cycleID,
		StartedAt:  started,
		FinishedAt: finished,
		Trigger:    trigger,
		Outcomes:   outcomes,
		Correlated: correlated,
	}

	if s.collector != nil {
		s.collector.ObserveRefreshCycle(trigger, finished.Sub(started))
		s.collector.SetIndicatorCount(s.store.Count())
	}

	summary := s.summarize(ctx, cycle)

	s.mu.Lock()
	s.lastCycle = &cycle
	s.lastSummary = summary
	s.mu.Unlock()

	s.persist(ctx)

	s.logger.Info("Refresh cycle complete",
		"cycle_id", cycleID,
		"trigger", trigger,
		"duration_ms", finished.Sub(started).Milliseconds(),
		"feeds", len(outcomes),
		"failed_feeds", len(cycle.Failed()),
		"indicators", s.store.Count())
}

// refreshFeed runs one feed's leg of the cycle: fetch with timeout and
// retries, normalize, merge, record bookkeeping.
func (s *RefreshScheduler) refreshFeed(ctx context.Context, connector feeds.Connector) models.FeedOutcome {
	name := connector.Name()
	start := time.Now()
	outcome := models.FeedOutcome{Feed: name}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	var records []models.RawRecord
	err := feeds.Retry(fetchCtx, s.retryPolicy, func() error {
		var fetchErr error
		records, fetchErr = connector.Fetch(fetchCtx, s.maxPerFeed)
		return fetchErr
	})

	if s.collector != nil {
		s.collector.ObserveFeedFetch(name, err)
	}
	connector.UpdateStatus(feeds.FetchResult{
		Records:   records,
		FetchedAt: time.Now().UTC(),
		Duration:  time.Since(start),
	}, err)

	if err != nil {
		outcome.Status = models.OutcomeError
		outcome.Err = err
		outcome.Error = err.Error()
		s.logger.Error("Feed fetch failed, keeping existing indicators",
			"feed", name, "error", err)
		s.store.RecordFeedOutcome(name, time.Now().UTC(), err)
		outcome.Duration = time.Since(start)
		outcome.DurationS = outcome.Duration.Seconds()
		return outcome
	}

	// Excess records beyond the per-feed cap are dropped, not merged
	if s.maxPerFeed > 0 && len(records) > s.maxPerFeed {
		records = records[:s.maxPerFeed]
	}
	outcome.Fetched = len(records)

	for _, raw := range records {
		draft, err := s.normalizer.Normalize(raw, name)
		if err != nil {
			outcome.Rejected++
			s.logger.Debug("Record rejected", "feed", name, "error", err)
			continue
		}
		outcome.Accepted++

		if _, isNew := s.store.Merge(draft); isNew {
			outcome.Created++
		} else {
			outcome.Merged++
		}
	}

	s.store.RecordFeedOutcome(name, time.Now().UTC(), nil)

	outcome.Status = models.OutcomeSuccess
	if outcome.Rejected > 0 {
		outcome.Status = models.OutcomePartial
	}
	outcome.Duration = time.Since(start)
	outcome.DurationS = outcome.Duration.Seconds()
	s.logger.Info("Feed refreshed",
		"feed", name,
		"status", outcome.Status,
		"fetched", outcome.Fetched,
		"created", outcome.Created,
		"merged", outcome.Merged,
		"rejected", outcome.Rejected)
	return outcome
}

// correlate recomputes the link table over the settled store and applies it
// atomically. Returns the number of indicators holding at least one link.
func (s *RefreshScheduler) correlate() int {
	links := s.correlator.Recompute(s.store.Snapshot())
	s.store.ApplyCorrelations(links)
	return len(links)
}

func (s *RefreshScheduler) summarize(ctx context.Context, cycle models.RefreshCycle) string {
	if s.enricher == nil {
		return ""
	}
	summary, err := s.enricher.SummarizeCycle(ctx, cycle, s.store.Snapshot())
	if err != nil {
		s.logger.Error("Cycle briefing failed", "error", err)
		return ""
	}
	return summary
}

func (s *RefreshScheduler) persist(ctx context.Context) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveSnapshot(ctx, s.store.Snapshot()); err != nil {
		s.logger.Error("Snapshot persistence failed", "error", err)
	}
}
