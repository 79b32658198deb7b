package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/threatradar/threatradar/internal/models"
)

// MockEnricher produces deterministic rule-based briefings without any API
// calls. Substituted automatically when no OpenAI key is configured.
type MockEnricher struct{}

// NewMockEnricher creates a mock enricher.
func NewMockEnricher() *MockEnricher {
	return &MockEnricher{}
}

// SummarizeCycle builds the briefing from counters alone.
func (m *MockEnricher) SummarizeCycle(_ context.Context, cycle models.RefreshCycle, indicators []models.Indicator) (string, error) {
	created, merged, failed := 0, 0, 0
	for _, o := range cycle.Outcomes {
		created += o.Created
		merged += o.Merged
		if o.Error != "" {
			failed++
		}
	}

	critical := 0
	for i := range indicators {
		if indicators[i].ThreatLevel == models.ThreatLevelCritical {
			critical++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Refresh cycle (%s) finished at %s: %d new indicators, %d merged observations across %d feeds.",
		cycle.Trigger, cycle.FinishedAt.UTC().Format(time.RFC3339),
		created, merged, len(cycle.Outcomes))
	if failed > 0 {
		fmt.Fprintf(&b, " %d feed(s) failed and kept their previous data.", failed)
	}
	if critical > 0 {
		fmt.Fprintf(&b, " %d indicator(s) currently rate critical.", critical)
	}
	return b.String(), nil
}
