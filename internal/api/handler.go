// Package api provides the HTTP handlers and routing for the scaler service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"nodescaler/internal/apperrors"
	"nodescaler/internal/cloudsync"
	"nodescaler/internal/health"
	"nodescaler/internal/inventory"
	"nodescaler/internal/job"
	"nodescaler/internal/logbuf"
)

// maxRequestBodySize limits request bodies to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Scaler is the service surface the API exposes.
type Scaler interface {
	Add(req job.AddRequest) (*job.Submitted, error)
	Remove(req job.RemoveRequest) (*job.Submitted, error)
	Get(key string) (*job.Job, error)
	List() []*job.Job
	Inventory() (*inventory.File, error)
}

// InventorySyncer reconciles the inventory against the cloud provider on
// demand. Nil when no provider is configured.
type InventorySyncer interface {
	Sync(ctx context.Context) (*cloudsync.Result, error)
}

// Handler contains the HTTP handlers for the scaler API.
type Handler struct {
	svc        Scaler
	health     *health.Checker
	logs       *logbuf.Buffer
	sync       InventorySyncer
	logTailMax int
}

// NewHandler creates the API handler.
func NewHandler(svc Scaler, healthChecker *health.Checker, logs *logbuf.Buffer, sync InventorySyncer, logTailMax int) *Handler {
	if logTailMax <= 0 {
		logTailMax = 200
	}
	return &Handler{
		svc:        svc,
		health:     healthChecker,
		logs:       logs,
		sync:       sync,
		logTailMax: logTailMax,
	}
}

// AddNode handles POST /v1/nodes
func (h *Handler) AddNode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req job.AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.Add(req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, resp)
}

// RemoveNode handles DELETE /v1/nodes/{hostname}
// Query params: ip (optional, part of the job key), skip_cluster_removal.
func (h *Handler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	hostname := r.PathValue("hostname")
	if hostname == "" {
		h.writeError(w, http.StatusBadRequest, "Hostname is required")
		return
	}

	req := job.RemoveRequest{
		Hostname: hostname,
		IP:       r.URL.Query().Get("ip"),
	}
	if raw := r.URL.Query().Get("skip_cluster_removal"); raw != "" {
		skip, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "skip_cluster_removal must be a boolean")
			return
		}
		req.SkipClusterRemoval = skip
	}

	resp, err := h.svc.Remove(req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, resp)
}

// ListJobs handles GET /v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"jobs": h.svc.List()})
}

// GetJob handles GET /v1/jobs/{key}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		h.writeError(w, http.StatusBadRequest, "Job key is required")
		return
	}

	j, err := h.svc.Get(key)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, j)
}

type hostSummary struct {
	Hostname     string `json:"hostname"`
	IP           string `json:"ip,omitempty"`
	ControlPlane bool   `json:"control_plane"`
	Worker       bool   `json:"worker"`
}

type inventoryResponse struct {
	Stats inventory.Stats `json:"stats"`
	Hosts []hostSummary   `json:"hosts"`
}

// GetInventory handles GET /v1/inventory
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.Inventory()
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	inGroup := func(group, name string) bool {
		g, ok := f.All.Children[group]
		if !ok || g == nil {
			return false
		}
		_, ok = g.Hosts[name]
		return ok
	}

	resp := inventoryResponse{Stats: f.Stats(), Hosts: make([]hostSummary, 0, len(f.All.Hosts))}
	for name, host := range f.All.Hosts {
		summary := hostSummary{
			Hostname:     name,
			ControlPlane: inGroup(inventory.GroupControlPlane, name),
			Worker:       inGroup(inventory.GroupWorkers, name),
		}
		if host != nil {
			summary.IP = host.IP
		}
		resp.Hosts = append(resp.Hosts, summary)
	}
	sort.Slice(resp.Hosts, func(i, j int) bool { return resp.Hosts[i].Hostname < resp.Hosts[j].Hostname })

	h.writeJSON(w, http.StatusOK, resp)
}

// SyncInventory handles POST /v1/inventory/sync - on-demand reconcile of the
// autoscaled node group into the inventory.
func (h *Handler) SyncInventory(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		h.writeError(w, http.StatusBadRequest, "Cloud inventory sync is not configured")
		return
	}

	res, err := h.sync.Sync(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "synced", "result": res})
}

// GetLogs handles GET /v1/logs
// Query params: max_lines (optional, capped by the configured tail size).
func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	max := h.logTailMax
	if raw := r.URL.Query().Get("max_lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "max_lines must be a positive integer")
			return
		}
		if n < max {
			max = n
		}
	}

	lines := h.logs.Tail(max)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"lines": lines,
		"count": len(lines),
	})
}

// Livez handles GET /livez - liveness probe. Never checks dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 when the inventory or the external tools are unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps service errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
