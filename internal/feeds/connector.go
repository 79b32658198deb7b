package feeds

import (
	"context"
	"sync"
	"time"

	"github.com/threatradar/threatradar/internal/models"
)

// Connector defines the interface that all feed connectors must implement.
type Connector interface {
	// Name returns the unique identifier for this feed.
	Name() string

	// Describe returns a human-readable description of the feed.
	Describe() string

	// URL returns the public address of the upstream provider, or empty for
	// synthetic feeds.
	URL() string

	// Reliability returns the static 1-5 trust rating of the feed, used by
	// the scorer to weight corroboration.
	Reliability() int

	// Fetch retrieves up to limit raw records from the feed. Records are
	// provider-native and go through normalization before ingestion.
	Fetch(ctx context.Context, limit int) ([]models.RawRecord, error)

	// HealthCheck verifies the connector can reach its data source.
	HealthCheck(ctx context.Context) error

	// UpdateStatus records the outcome of a fetch operation.
	UpdateStatus(result FetchResult, err error)

	// GetStatus returns the connector's fetch bookkeeping.
	GetStatus() ConnectorStatus
}

// FetchResult contains the outcome of a fetch operation.
type FetchResult struct {
	Records   []models.RawRecord
	FetchedAt time.Time
	Duration  time.Duration
}

// ConnectorStatus represents the current state of a connector.
type ConnectorStatus struct {
	Name         string
	Healthy      bool
	LastFetch    time.Time
	LastError    string
	TotalFetched int64
	TotalErrors  int64
}

// BaseConnector provides identity and status bookkeeping shared by connector
// implementations.
type BaseConnector struct {
	name        string
	description string
	url         string
	reliability int

	mu     sync.Mutex
	status ConnectorStatus
}

// NewBaseConnector creates a base connector with the given identity.
func NewBaseConnector(name, description, url string, reliability int) *BaseConnector {
	if reliability < 1 {
		reliability = 1
	}
	if reliability > 5 {
		reliability = 5
	}
	return &BaseConnector{
		name:        name,
		description: description,
		url:         url,
		reliability: reliability,
		status: ConnectorStatus{
			Name:    name,
			Healthy: true,
		},
	}
}

// Name returns the feed identifier.
func (b *BaseConnector) Name() string { return b.name }

// Describe returns the feed description.
func (b *BaseConnector) Describe() string { return b.description }

// URL returns the upstream provider address.
func (b *BaseConnector) URL() string { return b.url }

// Reliability returns the static trust rating.
func (b *BaseConnector) Reliability() int { return b.reliability }

// UpdateStatus records the outcome of a fetch operation. Cycles update the
// status concurrently with health reads, so it is guarded.
func (b *BaseConnector) UpdateStatus(result FetchResult, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.status.LastFetch = result.FetchedAt
	b.status.TotalFetched += int64(len(result.Records))

	if err != nil {
		b.status.Healthy = false
		b.status.LastError = err.Error()
		b.status.TotalErrors++
	} else {
		b.status.Healthy = true
		b.status.LastError = ""
	}
}

// GetStatus returns a copy of the current connector status.
func (b *BaseConnector) GetStatus() ConnectorStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}
