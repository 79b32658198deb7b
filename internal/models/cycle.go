package models

import "time"

// Per-feed outcome verdicts.
const (
	OutcomeSuccess = "success" // every fetched record was accepted
	OutcomePartial = "partial" // fetch succeeded but some records were rejected
	OutcomeError   = "error"   // fetch failed, existing indicators kept
)

// FeedOutcome records what a single feed contributed to a refresh cycle.
type FeedOutcome struct {
	Feed      string        `json:"feed"`
	Status    string        `json:"status"`
	Fetched   int           `json:"fetched"`
	Accepted  int           `json:"accepted"`
	Rejected  int           `json:"rejected"`
	Merged    int           `json:"merged"`
	Created   int           `json:"created"`
	Err       error         `json:"-"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"-"`
	DurationS float64       `json:"duration_seconds"`
}

// RefreshCycle summarizes one full ingest pass across all feeds.
type RefreshCycle struct {
	CycleID    string        `json:"cycle_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Trigger    string        `json:"trigger"` // "scheduled" or "manual"
	Outcomes   []FeedOutcome `json:"outcomes"`
	Correlated int           `json:"correlated"`
}

// Failed returns the outcomes of feeds whose fetch errored.
func (c *RefreshCycle) Failed() []FeedOutcome {
	var out []FeedOutcome
	for _, o := range c.Outcomes {
		if o.Err != nil || o.Error != "" {
			out = append(out, o)
		}
	}
	return out
}
