package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/threatradar/threatradar/internal/models"
	"github.com/threatradar/threatradar/internal/stats"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// IndicatorStore is the read surface the handlers need from the store.
type IndicatorStore interface {
	Query(q models.IndicatorQuery) ([]models.Indicator, int)
	Get(id string) (models.Indicator, bool)
	Feeds() []models.Feed
	Snapshot() []models.Indicator
	Count() int
}

// RefreshTrigger starts on-demand refresh cycles and reports on the last one.
type RefreshTrigger interface {
	TriggerRefresh(ctx context.Context) bool
	LastCycle() *models.RefreshCycle
	LastSummary() string
}

type Handler struct {
	store     IndicatorStore
	refresher RefreshTrigger
	stats     *stats.Aggregator
	logger    *slog.Logger
	startTime time.Time
	checks    []healthCheck
}

type healthCheck struct {
	name  string
	probe func(context.Context) error
}

func NewHandler(store IndicatorStore, refresher RefreshTrigger, aggregator *stats.Aggregator, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		refresher: refresher,
		stats:     aggregator,
		logger:    logger,
		startTime: time.Now(),
	}
}

// AddHealthCheck registers a named dependency probe reported by GET /health.
// Checks are registered at startup, before the server accepts traffic.
func (h *Handler) AddHealthCheck(name string, probe func(context.Context) error) {
	h.checks = append(h.checks, healthCheck{name: name, probe: probe})
}

// GetIndicatorsHandler handles GET /indicators
func (h *Handler) GetIndicatorsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query, err := parseIndicatorQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	indicators, total := h.store.Query(query)
	if indicators == nil {
		indicators = []models.Indicator{}
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	writeJSON(w, http.StatusOK, indicators)
}

// GetIndicatorByIDHandler handles GET /indicators/:id
func (h *Handler) GetIndicatorByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/indicators/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Indicator ID required", http.StatusBadRequest)
		return
	}

	indicator, ok := h.store.Get(id)
	if !ok {
		http.Error(w, "Indicator not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, indicator)
}

// GetFeedsHandler handles GET /feeds
func (h *Handler) GetFeedsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	feeds := h.store.Feeds()
	if feeds == nil {
		feeds = []models.Feed{}
	}

	writeJSON(w, http.StatusOK, feeds)
}

// GetStatisticsHandler handles GET /statistics
func (h *Handler) GetStatisticsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.stats.Compute(h.store.Snapshot(), h.store.Feeds()))
}

// TriggerUpdateHandler handles POST /feeds/update. The refresh runs in the
// background; the response acknowledges immediately. A trigger that arrives
// while a cycle is already running coalesces into it.
func (h *Handler) TriggerUpdateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.refresher.TriggerRefresh(context.Background()) {
		h.logger.Info("manual feed refresh triggered")
		writeJSON(w, http.StatusAccepted, UpdateResponse{
			Status:  "accepted",
			Message: "Feed refresh started",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, UpdateResponse{
		Status:  "busy",
		Message: "Feed refresh already in progress",
	})
}

// GetHealthHandler handles GET /health
func (h *Handler) GetHealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	healthy := true
	for _, feed := range h.store.Feeds() {
		if feed.Status == models.FeedStatusError {
			healthy = false
			break
		}
	}

	status := "ok"
	var checks map[string]string
	if len(h.checks) > 0 {
		checks = make(map[string]string, len(h.checks))
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, c := range h.checks {
			if err := c.probe(ctx); err != nil {
				checks[c.name] = err.Error()
				status = "degraded"
			} else {
				checks[c.name] = "ok"
			}
		}
	}

	writeJSON(w, http.StatusOK, models.Health{
		Status:       status,
		Timestamp:    time.Now().UTC(),
		Version:      Version,
		FeedsHealthy: healthy,
		TotalIOCs:    h.store.Count(),
		Checks:       checks,
	})
}

// GetBriefingHandler handles GET /briefing. It reports the latest refresh
// cycle alongside the analyst summary generated for it, if any.
func (h *Handler) GetBriefingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cycle := h.refresher.LastCycle()
	if cycle == nil {
		http.Error(w, "No refresh cycle has completed yet", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, BriefingResponse{
		Summary: h.refresher.LastSummary(),
		Cycle:   cycle,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

// Response types
type UpdateResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type BriefingResponse struct {
	Summary string               `json:"summary,omitempty"`
	Cycle   *models.RefreshCycle `json:"cycle"`
}
