// Package api exposes the gateway's pipeline over HTTP so the CLI's
// submit/stats/emergency-stop commands can drive a long-running `serve`
// process. Grounded on gsoultan-Hermod's internal/api/server.go: a single
// Server wrapping domain state, routed through http.ServeMux's method
// patterns, with Prometheus's promhttp.Handler mounted alongside the JSON
// routes the way Hermod mounts its own API next to static assets.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nethalo/queryguard/internal/gateway"
	"github.com/nethalo/queryguard/internal/validator"
)

// Server wires the gateway's pipeline to an HTTP mux.
type Server struct {
	gw     *gateway.Gateway
	logger zerolog.Logger
}

// NewServer returns a Server bound to gw.
func NewServer(gw *gateway.Gateway, logger zerolog.Logger) *Server {
	return &Server{gw: gw, logger: logger}
}

// Handler builds the routed mux. Exposed separately from ListenAndServe so
// tests can drive it with httptest without binding a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /submit", s.handleSubmit)
	mux.HandleFunc("GET /await", s.handleAwait)
	mux.HandleFunc("POST /cancel", s.handleCancel)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /performance-report", s.handlePerformanceReport)
	mux.HandleFunc("POST /emergency-stop", s.handleEmergencyStop)
	mux.HandleFunc("POST /reset-metrics", s.handleResetMetrics)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe blocks serving on addr until the process is killed.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("api server listening")
	return http.ListenAndServe(addr, s.Handler())
}

type submitRequest struct {
	RawQuery string `json:"rawQuery"`
	TenantID string `json:"tenantId"`
	Mode     string `json:"mode"`
	Priority int    `json:"priority"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode := validator.WorkflowMode(req.Mode)
	if mode == "" {
		mode = validator.ModeAudit
	}
	result := s.gw.SubmitQuery(req.RawQuery, req.TenantID, mode, req.Priority)
	writeJSON(w, result)
}

func (s *Server) handleAwait(w http.ResponseWriter, r *http.Request) {
	queryID := r.URL.Query().Get("queryId")
	if queryID == "" {
		http.Error(w, "queryId is required", http.StatusBadRequest)
		return
	}
	waitMs, _ := strconv.Atoi(r.URL.Query().Get("waitTimeoutMs"))
	if waitMs <= 0 {
		waitMs = 10_000
	}
	outcome := s.gw.AwaitResult(queryID, waitMs)
	writeJSON(w, struct {
		QueryID string `json:"queryId"`
		gateway.ExecutionOutcome
	}{QueryID: queryID, ExecutionOutcome: outcome})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	queryID := r.URL.Query().Get("queryId")
	cancelled := s.gw.Cancel(queryID)
	writeJSON(w, struct {
		Cancelled bool `json:"cancelled"`
	}{cancelled})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.gw.Stats())
}

func (s *Server) handlePerformanceReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.gw.PerformanceReport())
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	executing, queued := s.gw.EmergencyStop()
	writeJSON(w, struct {
		CancelledExecuting int `json:"cancelledExecuting"`
		CancelledQueued    int `json:"cancelledQueued"`
	}{executing, queued})
}

func (s *Server) handleResetMetrics(w http.ResponseWriter, r *http.Request) {
	s.gw.ResetMetrics()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
