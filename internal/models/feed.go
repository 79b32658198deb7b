package models

import "time"

// FeedStatus tracks the outcome of the most recent fetch for a feed.
type FeedStatus string

const (
	FeedStatusActive   FeedStatus = "active"
	FeedStatusInactive FeedStatus = "inactive" // configured but never fetched yet
	FeedStatusError    FeedStatus = "error"
)

// Feed is the public metadata of a configured feed connector. Reliability is
// static per-feed configuration on a 1-5 scale and feeds the scorer's
// corroboration weighting.
type Feed struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	URL            string     `json:"url"`
	Reliability    int        `json:"reliability"`
	Status         FeedStatus `json:"status"`
	LastUpdated    *time.Time `json:"last_updated,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	IndicatorCount int        `json:"indicator_count"`
}

// Healthy reports whether the feed's latest cycle completed without error.
func (f *Feed) Healthy() bool {
	return f.Status == FeedStatusActive
}
