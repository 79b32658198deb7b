package models

import "time"

// Stats is the aggregate view served by GET /statistics. The per-level counts
// partition the total: every indicator contributes to exactly one bucket.
type Stats struct {
	TotalIndicators int `json:"total_indicators"`
	CriticalCount   int `json:"critical_count"`
	HighCount       int `json:"high_count"`
	MediumCount     int `json:"medium_count"`
	LowCount        int `json:"low_count"`
	InfoCount       int `json:"info_count"`
	ActiveFeeds     int `json:"active_feeds"`
	CorrelatedIOCs  int `json:"correlated_iocs"`
	Last24hNew      int `json:"last_24h_new"`
}

// Health is the liveness payload served by GET /health.
type Health struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	FeedsHealthy bool      `json:"feeds_healthy"`
	TotalIOCs    int       `json:"total_iocs"`
	// Checks holds named dependency probes (connectors, database), "ok" or
	// the failure message. Absent when no checks are registered.
	Checks map[string]string `json:"checks,omitempty"`
}
