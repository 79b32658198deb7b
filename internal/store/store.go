package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threatradar/threatradar/internal/ingestion"
	"github.com/threatradar/threatradar/internal/models"
	"github.com/threatradar/threatradar/internal/scoring"
)

// Repository persists point-in-time snapshots of the indicator set. The
// in-memory store is authoritative; persistence is a warm-start optimization.
type Repository interface {
	SaveSnapshot(ctx context.Context, indicators []models.Indicator) error
	LoadSnapshot(ctx context.Context) ([]models.Indicator, error)
}

// MemoryStore is the authoritative collection of canonical indicators and
// feed metadata. All mutation goes through Merge, ApplyCorrelations and the
// feed bookkeeping methods; readers get deep copies and never observe
// in-progress writes.
type MemoryStore struct {
	mu      sync.RWMutex
	byKey   map[models.IndicatorKey]*models.Indicator
	byID    map[string]*models.Indicator
	feeds   map[string]*models.Feed
	feedSeq []string // registration order, for stable /feeds output
	scorer  *scoring.Scorer
	logger  *slog.Logger
	now     func() time.Time
}

// NewMemoryStore creates an empty store that rescores indicators with the
// given scorer on every merge. A nil logger falls back to slog.Default.
func NewMemoryStore(scorer *scoring.Scorer, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		byKey:  make(map[models.IndicatorKey]*models.Indicator),
		byID:   make(map[string]*models.Indicator),
		feeds:  make(map[string]*models.Feed),
		scorer: scorer,
		logger: logger,
		now:    time.Now,
	}
}

// RegisterFeed adds a configured feed's metadata. Feeds are configured at
// startup, not discovered at runtime.
func (s *MemoryStore) RegisterFeed(feed models.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if feed.Status == "" {
		feed.Status = models.FeedStatusInactive
	}
	if _, exists := s.feeds[feed.Name]; !exists {
		s.feedSeq = append(s.feedSeq, feed.Name)
	}
	copied := feed
	s.feeds[feed.Name] = &copied
}

// Merge reconciles a normalized draft against the store by its (type, value)
// identity. It returns a copy of the resulting indicator and whether a new
// record was created. Re-merging an identical draft is a no-op beyond the
// first application.
func (s *MemoryStore) Merge(draft ingestion.Draft) (models.Indicator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.IndicatorKey{Type: draft.Type, Value: draft.Value}
	existing, ok := s.byKey[key]
	if !ok {
		ind := &models.Indicator{
			ID:          uuid.NewString(),
			Value:       draft.Value,
			Type:        draft.Type,
			Sources:     []string{draft.Source},
			FirstSeen:   draft.ObservedAt,
			LastSeen:    draft.ObservedAt,
			Tags:        append([]string(nil), draft.Tags...),
			Description: draft.Description,
			CreatedAt:   s.now().UTC(),
		}
		s.scorer.Rescore(ind)
		s.byKey[key] = ind
		s.byID[ind.ID] = ind
		return ind.Clone(), true
	}

	if !existing.HasSource(draft.Source) {
		existing.Sources = append(existing.Sources, draft.Source)
	}
	existing.Tags = unionTags(existing.Tags, draft.Tags)
	if draft.ObservedAt.Before(existing.FirstSeen) {
		existing.FirstSeen = draft.ObservedAt
	}
	if draft.ObservedAt.After(existing.LastSeen) {
		existing.LastSeen = draft.ObservedAt
	}
	if draft.Description != "" {
		existing.Description = draft.Description
	}
	s.scorer.Rescore(existing)

	return existing.Clone(), false
}

// Get returns the indicator with the given surrogate ID.
func (s *MemoryStore) Get(id string) (models.Indicator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ind, ok := s.byID[id]
	if !ok {
		return models.Indicator{}, false
	}
	return ind.Clone(), true
}

// Query returns indicators matching the filter, sorted by score descending
// with ID as tiebreaker so pagination is stable over unchanged data. The
// second return value is the total match count before pagination.
func (s *MemoryStore) Query(q models.IndicatorQuery) ([]models.Indicator, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Indicator
	for _, ind := range s.byID {
		if q.Matches(ind) {
			matched = append(matched, ind)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Score != matched[j].Score {
			return matched[i].Score > matched[j].Score
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if q.Offset >= total {
		return nil, total
	}
	end := q.Offset + q.Limit
	if q.Limit <= 0 || end > total {
		end = total
	}

	page := make([]models.Indicator, 0, end-q.Offset)
	for _, ind := range matched[q.Offset:end] {
		page = append(page, ind.Clone())
	}
	return page, total
}

// Snapshot returns a deep copy of every indicator, for the correlator,
// statistics and persistence.
func (s *MemoryStore) Snapshot() []models.Indicator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Indicator, 0, len(s.byID))
	for _, ind := range s.byID {
		out = append(out, ind.Clone())
	}
	return out
}

// Count returns the number of unique indicators held.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// ApplyCorrelations atomically replaces every indicator's correlation set
// with the given delta. IDs absent from the delta are cleared, so a full
// recomputation can be swapped in as one consistent view.
func (s *MemoryStore) ApplyCorrelations(links map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ind := range s.byID {
		next := links[id]
		if len(next) == 0 {
			ind.Correlations = nil
			continue
		}
		ind.Correlations = append([]string(nil), next...)
		sort.Strings(ind.Correlations)
	}
}

// Seed loads previously persisted indicators, skipping any whose identity is
// already present. Intended for warm starts before the first cycle runs.
// A duplicate identity in the snapshot means the persisted state is corrupt;
// the offending record is dropped and logged, never merged.
func (s *MemoryStore) Seed(indicators []models.Indicator) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for _, ind := range indicators {
		key := ind.Key()
		if existing, exists := s.byKey[key]; exists {
			s.logger.Error("identity conflict in persisted snapshot, record dropped",
				"type", ind.Type,
				"value", ind.Value,
				"id", ind.ID,
				"kept_id", existing.ID)
			continue
		}
		if _, exists := s.byID[ind.ID]; exists {
			s.logger.Error("duplicate indicator id in persisted snapshot, record dropped",
				"type", ind.Type,
				"value", ind.Value,
				"id", ind.ID)
			continue
		}
		copied := ind.Clone()
		s.byKey[key] = &copied
		s.byID[copied.ID] = &copied
		loaded++
	}
	return loaded
}

// RecordFeedOutcome updates a feed's bookkeeping at the end of its cycle
// leg. A failed fetch marks the feed error but leaves its indicators alone.
func (s *MemoryStore) RecordFeedOutcome(name string, finishedAt time.Time, fetchErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	feed, ok := s.feeds[name]
	if !ok {
		return
	}

	at := finishedAt.UTC()
	feed.LastUpdated = &at
	if fetchErr != nil {
		feed.Status = models.FeedStatusError
		feed.LastError = fetchErr.Error()
	} else {
		feed.Status = models.FeedStatusActive
		feed.LastError = ""
	}
	feed.IndicatorCount = s.countBySourceLocked(name)
}

// Feeds returns feed metadata in registration order.
func (s *MemoryStore) Feeds() []models.Feed {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Feed, 0, len(s.feedSeq))
	for _, name := range s.feedSeq {
		out = append(out, *s.feeds[name])
	}
	return out
}

func (s *MemoryStore) countBySourceLocked(name string) int {
	count := 0
	for _, ind := range s.byID {
		if ind.HasSource(name) {
			count++
		}
	}
	return count
}

// unionTags merges the draft tags into the existing set, case-insensitively,
// keeping the first-seen casing.
func unionTags(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[strings.ToLower(t)] = true
	}
	for _, t := range incoming {
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		existing = append(existing, t)
	}
	return existing
}
