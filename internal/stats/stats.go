package stats

import (
	"time"

	"github.com/threatradar/threatradar/internal/models"
)

// Aggregator derives summary counters from the current store state on
// demand. It holds no cache: every call reflects the snapshot it is given.
type Aggregator struct {
	now func() time.Time
}

// NewAggregator constructs an aggregator using wall-clock time for the
// trailing-24h window.
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// Compute builds the statistics payload from an indicator snapshot and the
// feed metadata table. The per-level counts always partition the total.
func (a *Aggregator) Compute(indicators []models.Indicator, feeds []models.Feed) models.Stats {
	stats := models.Stats{
		TotalIndicators: len(indicators),
	}

	cutoff := a.now().UTC().Add(-24 * time.Hour)
	for i := range indicators {
		ind := &indicators[i]

		switch ind.ThreatLevel {
		case models.ThreatLevelCritical:
			stats.CriticalCount++
		case models.ThreatLevelHigh:
			stats.HighCount++
		case models.ThreatLevelMedium:
			stats.MediumCount++
		case models.ThreatLevelLow:
			stats.LowCount++
		default:
			stats.InfoCount++
		}

		if len(ind.Correlations) > 0 {
			stats.CorrelatedIOCs++
		}
		// Creation time, not the mutable firstSeen: merges must not pull an
		// old indicator back into the "new" window.
		if ind.CreatedAt.After(cutoff) {
			stats.Last24hNew++
		}
	}

	for i := range feeds {
		if feeds[i].Healthy() {
			stats.ActiveFeeds++
		}
	}

	return stats
}
