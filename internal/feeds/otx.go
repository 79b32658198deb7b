package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/threatradar/threatradar/internal/models"
)

const otxBaseURL = "https://otx.alienvault.com/api/v1"

// OTXConnector pulls indicators from AlienVault Open Threat Exchange.
// Subscribed pulses are flattened into raw records; each pulse contributes
// its tags and description to every indicator it carries.
type OTXConnector struct {
	*BaseConnector
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOTXConnector creates a connector for the OTX subscribed-pulses endpoint.
// The API key is required; callers should register a mock feed instead when
// no key is configured.
func NewOTXConnector(apiKey string, timeout time.Duration) *OTXConnector {
	return &OTXConnector{
		BaseConnector: NewBaseConnector("alienvault-otx", "AlienVault Open Threat Exchange subscribed pulses", otxBaseURL, 4),
		apiKey:        apiKey,
		baseURL:       otxBaseURL,
		client:        &http.Client{Timeout: timeout},
	}
}

type otxPulse struct {
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	Tags              []string       `json:"tags"`
	Adversary         string         `json:"adversary"`
	References        []string       `json:"references"`
	TargetedCountries []string       `json:"targeted_countries"`
	Created           string         `json:"created"`
	Indicators        []otxIndicator `json:"indicators"`
}

type otxIndicator struct {
	Indicator string `json:"indicator"`
	Type      string `json:"type"`
	Created   string `json:"created"`
}

type otxPulseResponse struct {
	Results []otxPulse `json:"results"`
}

// Fetch retrieves up to limit indicators from recently subscribed pulses.
func (c *OTXConnector) Fetch(ctx context.Context, limit int) ([]models.RawRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	// Each pulse carries multiple indicators, so request far fewer pulses
	// than the indicator limit.
	pulseLimit := limit / 10
	if pulseLimit < 1 {
		pulseLimit = 1
	}
	if pulseLimit > 50 {
		pulseLimit = 50
	}

	endpoint := fmt.Sprintf("%s/pulses/subscribed?%s", c.baseURL,
		url.Values{"limit": {strconv.Itoa(pulseLimit)}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building OTX request: %w", err)
	}
	req.Header.Set("X-OTX-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewRetryableError(fmt.Errorf("fetching OTX pulses: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, NewRetryableErrorWithDelay(fmt.Errorf("OTX rate limited"), retryAfter)
	case resp.StatusCode >= 500:
		return nil, NewRetryableError(fmt.Errorf("OTX server error: %d", resp.StatusCode))
	default:
		return nil, fmt.Errorf("OTX API error: %d", resp.StatusCode)
	}

	var payload otxPulseResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding OTX response: %w", err)
	}

	var records []models.RawRecord
	for _, pulse := range payload.Results {
		records = append(records, flattenPulse(pulse)...)
		if len(records) >= limit {
			break
		}
	}
	if len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// HealthCheck probes the pulses endpoint with a minimal request.
func (c *OTXConnector) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/pulses/subscribed?limit=1", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-OTX-API-KEY", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("OTX unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OTX health check returned %d", resp.StatusCode)
	}
	return nil
}

func flattenPulse(pulse otxPulse) []models.RawRecord {
	tags := pulse.Tags
	if len(tags) > 5 {
		tags = tags[:5]
	}

	description := pulse.Description
	if len(description) > 200 {
		description = description[:200]
	}

	var records []models.RawRecord
	for _, ind := range pulse.Indicators {
		hint, ok := mapOTXType(ind.Type)
		if !ok || ind.Indicator == "" {
			continue
		}
		records = append(records, models.RawRecord{
			Value:       ind.Indicator,
			TypeHint:    hint,
			Tags:        tags,
			Description: description,
			ObservedAt:  parseOTXTime(ind.Created, pulse.Created),
		})
	}
	return records
}

// mapOTXType maps provider indicator types onto the canonical type hints.
func mapOTXType(otxType string) (string, bool) {
	switch otxType {
	case "IPv4", "IPv6":
		return "ip", true
	case "domain", "hostname":
		return "domain", true
	case "URL":
		return "url", true
	case "FileHash-MD5", "FileHash-SHA1", "FileHash-SHA256":
		return "hash", true
	case "email":
		return "email", true
	}
	return "", false
}

func parseOTXTime(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Now().UTC()
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
