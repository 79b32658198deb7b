package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/threatradar/threatradar/internal/models"
)

// Enricher produces a short analyst-style briefing after each refresh cycle,
// summarizing what the cycle changed and which indicators dominate.
type Enricher interface {
	SummarizeCycle(ctx context.Context, cycle models.RefreshCycle, indicators []models.Indicator) (string, error)
}

// OpenAIConfig holds settings for the OpenAI-backed enricher.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultOpenAIConfig returns sensible defaults for briefing generation.
func DefaultOpenAIConfig(apiKey, model string) OpenAIConfig {
	if model == "" {
		model = openai.GPT4oMini
	}
	return OpenAIConfig{
		APIKey:      apiKey,
		Model:       model,
		Temperature: 0.3, // factual summaries, not creative writing
		MaxTokens:   400,
		Timeout:     60 * time.Second,
	}
}

// OpenAIEnricher generates briefings through the OpenAI chat API.
type OpenAIEnricher struct {
	client *openai.Client
	config OpenAIConfig
	logger *slog.Logger
}

// NewOpenAIEnricher creates an OpenAI-backed enricher.
func NewOpenAIEnricher(config OpenAIConfig, logger *slog.Logger) *OpenAIEnricher {
	return &OpenAIEnricher{
		client: openai.NewClient(config.APIKey),
		config: config,
		logger: logger,
	}
}

const briefingSystemPrompt = "You are a threat intelligence analyst. " +
	"Summarize the refresh cycle in at most four sentences for an operations dashboard. " +
	"Lead with the most severe indicators and note any failing feeds. Plain text only."

// SummarizeCycle asks the model for a briefing over the cycle outcome and the
// highest-scoring indicators.
func (e *OpenAIEnricher) SummarizeCycle(ctx context.Context, cycle models.RefreshCycle, indicators []models.Indicator) (string, error) {
	apiCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(apiCtx, openai.ChatCompletionRequest{
		Model:       e.config.Model,
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: briefingSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildCyclePrompt(cycle, indicators),
			},
		},
	})

	e.logger.Info("briefing generation complete",
		"duration_ms", time.Since(start).Milliseconds(),
		"success", err == nil)

	if err != nil {
		return "", fmt.Errorf("generating cycle briefing: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func buildCyclePrompt(cycle models.RefreshCycle, indicators []models.Indicator) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Refresh cycle (%s) finished at %s.\n",
		cycle.Trigger, cycle.FinishedAt.UTC().Format(time.RFC3339))
	for _, o := range cycle.Outcomes {
		if o.Error != "" {
			fmt.Fprintf(&b, "Feed %s FAILED: %s\n", o.Feed, o.Error)
		} else {
			fmt.Fprintf(&b, "Feed %s: %d fetched, %d new, %d merged\n",
				o.Feed, o.Fetched, o.Created, o.Merged)
		}
	}

	top := topByScore(indicators, 10)
	if len(top) > 0 {
		b.WriteString("Top indicators:\n")
		for _, ind := range top {
			fmt.Fprintf(&b, "- %s %s score=%d level=%s tags=%s sources=%d\n",
				ind.Type, ind.Value, ind.Score, ind.ThreatLevel,
				strings.Join(ind.Tags, ","), len(ind.Sources))
		}
	}
	return b.String()
}

func topByScore(indicators []models.Indicator, n int) []models.Indicator {
	sorted := append([]models.Indicator(nil), indicators...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ID < sorted[j].ID
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
