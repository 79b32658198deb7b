package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/threatradar/threatradar/internal/auth"
	"github.com/threatradar/threatradar/internal/config"
	"github.com/threatradar/threatradar/internal/ingestion"
	"github.com/threatradar/threatradar/internal/models"
	"github.com/threatradar/threatradar/internal/scoring"
	"github.com/threatradar/threatradar/internal/stats"
	"github.com/threatradar/threatradar/internal/store"
)

type fakeRefresher struct {
	busy      bool
	triggered int
	cycle     *models.RefreshCycle
	summary   string
}

func (f *fakeRefresher) TriggerRefresh(ctx context.Context) bool {
	if f.busy {
		return false
	}
	f.triggered++
	return true
}

func (f *fakeRefresher) LastCycle() *models.RefreshCycle { return f.cycle }
func (f *fakeRefresher) LastSummary() string             { return f.summary }

func newTestMux(t *testing.T, authCfg config.AuthConfig) (*http.ServeMux, *store.MemoryStore, *fakeRefresher) {
	t.Helper()

	scorer := scoring.NewScorer(config.ScoringConfig{
		CriticalThreshold: 80,
		HighThreshold:     60,
		MediumThreshold:   40,
		LowThreshold:      20,
	}, 0, func(string) int { return 3 })
	st := store.NewMemoryStore(scorer, nil)

	refresher := &fakeRefresher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(st, refresher, stats.NewAggregator(), logger)

	mux := http.NewServeMux()
	SetupRoutes(mux, handler, authCfg, logger)
	return mux, st, refresher
}

func seedIndicators(t *testing.T, st *store.MemoryStore) []models.Indicator {
	t.Helper()

	drafts := []ingestion.Draft{
		{Value: "198.51.100.7", Type: models.IOCTypeIP, Source: "alienvault-otx", Tags: []string{"c2", "malware"}, ObservedAt: time.Now().UTC()},
		{Value: "malicious-example.test", Type: models.IOCTypeDomain, Source: "mock-blocklist", Tags: []string{"phishing"}, Description: "Phishing landing page", ObservedAt: time.Now().UTC()},
		{Value: "https://malicious-example.test/login", Type: models.IOCTypeURL, Source: "mock-blocklist", Tags: []string{"phishing"}, ObservedAt: time.Now().UTC()},
	}

	out := make([]models.Indicator, 0, len(drafts))
	for _, d := range drafts {
		ind, _ := st.Merge(d)
		out = append(out, ind)
	}
	return out
}

func TestGetIndicators(t *testing.T) {
	mux, st, _ := newTestMux(t, config.AuthConfig{})
	seedIndicators(t, st)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/indicators", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if total := rr.Header().Get("X-Total-Count"); total != "3" {
		t.Errorf("X-Total-Count = %q, want 3", total)
	}

	var got []models.Indicator
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("response is not a JSON array: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("indicators not sorted by score: %d before %d", got[i-1].Score, got[i].Score)
		}
	}
}

func TestGetIndicatorsFilters(t *testing.T) {
	mux, st, _ := newTestMux(t, config.AuthConfig{})
	seedIndicators(t, st)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"by type", "?types=ip", 1},
		{"by two types", "?types=domain,url", 2},
		{"by source", "?sources=mock-blocklist", 2},
		{"by search", "?search=phishing", 2},
		{"limit", "?limit=1", 1},
		{"offset beyond", "?offset=10", 0},
		{"no match", "?search=no-such-value", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/indicators"+tt.query, nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rr.Code)
			}
			var got []models.Indicator
			if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestGetIndicatorsRejectsBadQuery(t *testing.T) {
	mux, _, _ := newTestMux(t, config.AuthConfig{})

	tests := []string{
		"?limit=abc",
		"?offset=-1",
		"?types=hostname",
		"?levels=severe",
	}
	for _, query := range tests {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/indicators"+query, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", query, rr.Code)
		}
	}
}

func TestGetIndicatorByID(t *testing.T) {
	mux, st, _ := newTestMux(t, config.AuthConfig{})
	seeded := seedIndicators(t, st)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/indicators/"+seeded[0].ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var got models.Indicator
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != seeded[0].ID || got.Value != seeded[0].Value {
		t.Errorf("got %s/%s, want %s/%s", got.ID, got.Value, seeded[0].ID, seeded[0].Value)
	}
}

func TestGetIndicatorByIDNotFound(t *testing.T) {
	mux, st, _ := newTestMux(t, config.AuthConfig{})
	seedIndicators(t, st)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/indicators/no-such-id", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestGetFeeds(t *testing.T) {
	mux, st, _ := newTestMux(t, config.AuthConfig{})
	st.RegisterFeed(models.Feed{ID: "alienvault-otx", Name: "alienvault-otx", URL: "https://otx.alienvault.com", Reliability: 4})
	st.RegisterFeed(models.Feed{ID: "mock-blocklist", Name: "mock-blocklist", Reliability: 2})
	seedIndicators(t, st)
	st.RecordFeedOutcome("alienvault-otx", time.Now(), nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/feeds", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var got []models.Feed
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Name != "alienvault-otx" {
		t.Errorf("feed order lost: first = %q", got[0].Name)
	}
	if got[0].Status != models.FeedStatusActive {
		t.Errorf("fetched feed status = %q, want active", got[0].Status)
	}
	if got[1].Status != models.FeedStatusInactive {
		t.Errorf("unfetched feed status = %q, want inactive", got[1].Status)
	}
	if got[0].IndicatorCount != 1 {
		t.Errorf("indicator_count = %d, want 1", got[0].IndicatorCount)
	}
}

func TestGetStatistics(t *testing.T) {
	mux, st, _ := newTestMux(t, config.AuthConfig{})
	seedIndicators(t, st)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/statistics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var got models.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TotalIndicators != 3 {
		t.Errorf("total_indicators = %d, want 3", got.TotalIndicators)
	}
	sum := got.CriticalCount + got.HighCount + got.MediumCount + got.LowCount + got.InfoCount
	if sum != got.TotalIndicators {
		t.Errorf("level counts sum to %d, want %d", sum, got.TotalIndicators)
	}
	if got.Last24hNew != 3 {
		t.Errorf("last_24h_new = %d, want 3", got.Last24hNew)
	}
}

func TestTriggerFeedUpdate(t *testing.T) {
	mux, _, refresher := newTestMux(t, config.AuthConfig{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/feeds/update", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}

	var got UpdateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "accepted" || got.Message == "" {
		t.Errorf("response = %+v, want accepted with message", got)
	}
	if refresher.triggered != 1 {
		t.Errorf("triggered = %d, want 1", refresher.triggered)
	}
}

func TestTriggerFeedUpdateCoalesces(t *testing.T) {
	mux, _, refresher := newTestMux(t, config.AuthConfig{})
	refresher.busy = true

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/feeds/update", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}

	var got UpdateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "busy" {
		t.Errorf("status = %q, want busy", got.Status)
	}
	if refresher.triggered != 0 {
		t.Errorf("triggered = %d, want 0", refresher.triggered)
	}
}

func TestTriggerFeedUpdateRequiresAuth(t *testing.T) {
	authCfg := config.AuthConfig{JWTSecret: "test-secret", AdminPassword: "pw", TokenTTL: time.Hour}
	mux, _, refresher := newTestMux(t, authCfg)

	// No token
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/feeds/update", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: status = %d, want 401", rr.Code)
	}
	if refresher.triggered != 0 {
		t.Errorf("unauthenticated trigger must not run, triggered = %d", refresher.triggered)
	}

	// With token
	token, err := auth.GenerateToken("admin", authCfg.JWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/feeds/update", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("authenticated: status = %d, want 202", rr.Code)
	}
	if refresher.triggered != 1 {
		t.Errorf("triggered = %d, want 1", refresher.triggered)
	}
}

func TestGetHealth(t *testing.T) {
	mux, st, _ := newTestMux(t, config.AuthConfig{})
	st.RegisterFeed(models.Feed{ID: "alienvault-otx", Name: "alienvault-otx"})
	seedIndicators(t, st)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var got models.Health
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ok" {
		t.Errorf("status = %q, want ok", got.Status)
	}
	if got.Version != Version {
		t.Errorf("version = %q, want %q", got.Version, Version)
	}
	if !got.FeedsHealthy {
		t.Error("feeds_healthy = false with no failed feeds")
	}
	if got.TotalIOCs != 3 {
		t.Errorf("total_iocs = %d, want 3", got.TotalIOCs)
	}
}

func TestGetHealthReportsFailedFeed(t *testing.T) {
	mux, st, _ := newTestMux(t, config.AuthConfig{})
	st.RegisterFeed(models.Feed{ID: "alienvault-otx", Name: "alienvault-otx"})
	st.RecordFeedOutcome("alienvault-otx", time.Now(), context.DeadlineExceeded)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var got models.Health
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.FeedsHealthy {
		t.Error("feeds_healthy = true with a failed feed")
	}
}

func TestGetHealthRunsNamedChecks(t *testing.T) {
	scorer := scoring.NewScorer(config.ScoringConfig{
		CriticalThreshold: 80,
		HighThreshold:     60,
		MediumThreshold:   40,
		LowThreshold:      20,
	}, 0, func(string) int { return 3 })
	st := store.NewMemoryStore(scorer, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(st, &fakeRefresher{}, stats.NewAggregator(), logger)
	handler.AddHealthCheck("database", func(context.Context) error { return nil })
	handler.AddHealthCheck("feed:alienvault-otx", func(context.Context) error {
		return errors.New("connection refused")
	})

	mux := http.NewServeMux()
	SetupRoutes(mux, handler, config.AuthConfig{}, logger)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var got models.Health
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "degraded" {
		t.Errorf("status = %q, want degraded when a check fails", got.Status)
	}
	if got.Checks["database"] != "ok" {
		t.Errorf(`checks["database"] = %q, want ok`, got.Checks["database"])
	}
	if got.Checks["feed:alienvault-otx"] != "connection refused" {
		t.Errorf(`checks["feed:alienvault-otx"] = %q, want the failure message`,
			got.Checks["feed:alienvault-otx"])
	}
}

func TestGetBriefing(t *testing.T) {
	mux, _, refresher := newTestMux(t, config.AuthConfig{})

	// Before the first cycle completes
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/briefing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("before first cycle: status = %d, want 404", rr.Code)
	}

	refresher.cycle = &models.RefreshCycle{
		CycleID:    "b9f7d6d0-0000-4000-8000-000000000001",
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Trigger:    "scheduled",
	}
	refresher.summary = "Quiet cycle, nothing critical."

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/briefing", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var got BriefingResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Summary != refresher.summary {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.Cycle == nil || got.Cycle.Trigger != "scheduled" {
		t.Errorf("cycle = %+v", got.Cycle)
	}
	if got.Cycle != nil && got.Cycle.CycleID != refresher.cycle.CycleID {
		t.Errorf("cycle_id = %q, want %q", got.Cycle.CycleID, refresher.cycle.CycleID)
	}
}

func TestLogin(t *testing.T) {
	authCfg := config.AuthConfig{JWTSecret: "test-secret", AdminPassword: "pw", TokenTTL: time.Hour}
	mux, _, _ := newTestMux(t, authCfg)

	// Wrong password
	body := bytes.NewBufferString(`{"password":"nope"}`)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login", body))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: status = %d, want 401", rr.Code)
	}

	// Correct password
	body = bytes.NewBufferString(`{"password":"pw"}`)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var got LoginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Token == "" {
		t.Error("empty token")
	}
	if subject, err := auth.ValidateToken(got.Token, authCfg.JWTSecret); err != nil || subject != "admin" {
		t.Errorf("issued token does not validate: subject=%q err=%v", subject, err)
	}
}

func TestLoginUnavailableWhenUnconfigured(t *testing.T) {
	mux, _, _ := newTestMux(t, config.AuthConfig{})

	body := bytes.NewBufferString(`{"password":"pw"}`)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login", body))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}
