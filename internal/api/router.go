package api

import (
	"net/http"

	"github.com/threatradar/threatradar/internal/auth"
	"github.com/threatradar/threatradar/internal/config"
	"log/slog"
)

// SetupRoutes configures all API routes
func SetupRoutes(mux *http.ServeMux, handler *Handler, authConfig config.AuthConfig, logger *slog.Logger) {
	authHandler := NewAuthHandler(authConfig, logger)
	authMiddleware := auth.Middleware(authConfig)

	// Authentication routes (public)
	mux.HandleFunc("/api/auth/login", authHandler.Login)
	mux.HandleFunc("/api/auth/validate", func(w http.ResponseWriter, r *http.Request) {
		authMiddleware(http.HandlerFunc(authHandler.ValidateToken)).ServeHTTP(w, r)
	})

	// Indicator routes (public for reading)
	mux.HandleFunc("/indicators", handler.GetIndicatorsHandler)
	mux.HandleFunc("/indicators/", handler.GetIndicatorByIDHandler)

	// Feed routes
	mux.HandleFunc("/feeds", handler.GetFeedsHandler)
	mux.HandleFunc("/feeds/update", func(w http.ResponseWriter, r *http.Request) {
		// Handle CORS preflight
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.WriteHeader(http.StatusOK)
			return
		}

		authMiddleware(http.HandlerFunc(handler.TriggerUpdateHandler)).ServeHTTP(w, r)
	})

	// Aggregates
	mux.HandleFunc("/statistics", handler.GetStatisticsHandler)
	mux.HandleFunc("/briefing", handler.GetBriefingHandler)

	// Health check
	mux.HandleFunc("/health", handler.GetHealthHandler)
}
