package feeds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/threatradar/threatradar/internal/models"
)

// MockConnector serves deterministic sample indicators so the pipeline can be
// exercised without any provider credentials. Two mock feeds with different
// names deliberately share part of their record set, which makes source
// merging observable in a demo deployment.
type MockConnector struct {
	*BaseConnector
	records []models.RawRecord
	failErr error
}

var mockTagPool = []string{"malware", "phishing", "c2", "ransomware", "apt", "botnet"}

// NewMockConnector builds a mock feed. The offset shifts which slice of the
// sample space the feed emits; feeds whose offsets differ by less than the
// overlap width share indicators.
func NewMockConnector(name string, offset int) *MockConnector {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	var records []models.RawRecord
	for i := 0; i < 20; i++ {
		n := offset + i
		observed := base.Add(time.Duration(n) * time.Hour)
		tags := []string{
			mockTagPool[n%len(mockTagPool)],
			mockTagPool[(n+2)%len(mockTagPool)],
		}

		var value, hint string
		switch n % 4 {
		case 0:
			// RFC 5737 TEST-NET-1 addresses
			value = fmt.Sprintf("192.0.2.%d", (n%254)+1)
			hint = "ip"
		case 1:
			// .test is reserved
			value = fmt.Sprintf("malicious-example-%d.test", n)
			hint = "domain"
		case 2:
			value = mockHash(n)
			hint = "hash"
		default:
			value = fmt.Sprintf("https://malicious-example-%d.test/payload", n-2)
			hint = "url"
		}

		records = append(records, models.RawRecord{
			Value:       value,
			TypeHint:    hint,
			Tags:        tags,
			Description: fmt.Sprintf("[MOCK DATA] Sample %s indicator for demonstration", hint),
			ObservedAt:  observed,
		})
	}

	return &MockConnector{
		BaseConnector: NewBaseConnector(name, "Deterministic sample feed for demo and test runs", "", 2),
		records:       records,
	}
}

// NewStaticMockConnector builds a mock feed serving exactly the given
// records. Used by tests that need full control over feed contents.
func NewStaticMockConnector(name string, records []models.RawRecord) *MockConnector {
	return &MockConnector{
		BaseConnector: NewBaseConnector(name, "Static sample feed", "", 2),
		records:       records,
	}
}

// Fail makes every subsequent Fetch and HealthCheck return err. Passing nil
// restores normal operation.
func (c *MockConnector) Fail(err error) {
	c.failErr = err
}

// Fetch returns up to limit sample records.
func (c *MockConnector) Fetch(ctx context.Context, limit int) ([]models.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.failErr != nil {
		return nil, c.failErr
	}

	if limit <= 0 || limit >= len(c.records) {
		out := make([]models.RawRecord, len(c.records))
		copy(out, c.records)
		return out, nil
	}
	out := make([]models.RawRecord, limit)
	copy(out, c.records[:limit])
	return out, nil
}

// HealthCheck always succeeds unless a failure has been injected.
func (c *MockConnector) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.failErr
}

// mockHash derives a distinct 64-char hex string per index.
func mockHash(n int) string {
	digit := "0123456789abcdef"[n%16]
	return strings.Repeat(string(digit), 64)
}
