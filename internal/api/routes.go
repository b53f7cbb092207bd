package api

import (
	"net/http"

	"nodescaler/internal/health"
	"nodescaler/internal/logbuf"
	"nodescaler/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Scaler        Scaler
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	Logs          *logbuf.Buffer
	Sync          InventorySyncer // nil disables /v1/inventory/sync
	LogTailMax    int
	APIKey        string
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Scaler, cfg.HealthChecker, cfg.Logs, cfg.Sync, cfg.LogTailMax)

	mux := http.NewServeMux()

	// Probe endpoints, no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Node lifecycle and observation endpoints, auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/nodes", authMiddleware(http.HandlerFunc(handler.AddNode)))
	mux.Handle("DELETE /v1/nodes/{hostname}", authMiddleware(http.HandlerFunc(handler.RemoveNode)))
	mux.Handle("GET /v1/jobs", authMiddleware(http.HandlerFunc(handler.ListJobs)))
	mux.Handle("GET /v1/jobs/{key}", authMiddleware(http.HandlerFunc(handler.GetJob)))
	mux.Handle("GET /v1/inventory", authMiddleware(http.HandlerFunc(handler.GetInventory)))
	mux.Handle("POST /v1/inventory/sync", authMiddleware(http.HandlerFunc(handler.SyncInventory)))
	mux.Handle("GET /v1/logs", authMiddleware(http.HandlerFunc(handler.GetLogs)))

	// Middleware chain, outermost first
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
