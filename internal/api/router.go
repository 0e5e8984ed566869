package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// RouterDeps holds dependencies for the top-level HTTP handler.
type RouterDeps struct {
	Service HistoryService
	// ScanRate is the sustained requests per second allowed on the
	// full-scan routes. Zero disables throttling.
	ScanRate  float64
	ScanBurst int
	Logger    *slog.Logger // defaults to slog.Default()
}

// NewRouter composes the health check and the history API.
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var scan *rate.Limiter
	if deps.ScanRate > 0 {
		burst := deps.ScanBurst
		if burst < 1 {
			burst = 1
		}
		scan = rate.NewLimiter(rate.Limit(deps.ScanRate), burst)
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Mount("/api/history", NewHistoryHandler(deps.Service, scan))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
