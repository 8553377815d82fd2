package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/crewline/foreman/pkg/blocker"
	"github.com/crewline/foreman/pkg/log"
	"github.com/crewline/foreman/pkg/metrics"
	"github.com/crewline/foreman/pkg/orchestrator"
	"github.com/crewline/foreman/pkg/state"
	"github.com/crewline/foreman/pkg/ticket"
)

// Server is the control-plane HTTP surface of the engine: status,
// pause/resume, blocker resolution, ticket webhooks and metrics.
type Server struct {
	orch     *orchestrator.Orchestrator
	blockers *blocker.Registry
	es       *state.ExecutionState
	webhook  *ticket.WebhookHandler
	mux      *http.ServeMux
	httpSrv  *http.Server
}

// NewServer wires the control plane. blockers, es and webhook may be
// nil; the matching endpoints degrade to 404 or 503.
func NewServer(orch *orchestrator.Orchestrator, blockers *blocker.Registry, es *state.ExecutionState, webhook *ticket.WebhookHandler) *Server {
	mux := http.NewServeMux()
	s := &Server{
		orch:     orch,
		blockers: blockers,
		es:       es,
		webhook:  webhook,
		mux:      mux,
	}

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/v1/status", s.statusHandler)
	mux.HandleFunc("/v1/pause", s.pauseAllHandler)
	mux.HandleFunc("/v1/resume", s.resumeAllHandler)
	mux.HandleFunc("/v1/services/", s.serviceHandler)
	mux.HandleFunc("/v1/blockers", s.blockersHandler)
	mux.HandleFunc("/v1/blockers/", s.resolveBlockerHandler)
	mux.Handle("/metrics", metrics.Handler())
	if webhook != nil {
		mux.Handle("/webhooks/linear", webhook)
	}
	return s
}

// Start runs the server until the listener fails or Shutdown is called
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logger := log.WithComponent("api")
	logger.Info().Str("addr", addr).Msg("control plane listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the mux for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) pauseAllHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.orch.PauseAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) resumeAllHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.orch.ResumeAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// serviceHandler routes /v1/services/{name}/pause and .../resume
func (s *Server) serviceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/services/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	name, verb := parts[0], parts[1]

	var ok bool
	switch verb {
	case "pause":
		ok = s.orch.PauseService(name)
	case "resume":
		ok = s.orch.ResumeService(name)
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown service: " + name})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": name, "status": verb + "d"})
}

// blockerView is the wire shape of a pending blocker
type blockerView struct {
	BlockerID   string `json:"blocker_id"`
	ServiceName string `json:"service_name"`
	Question    string `json:"question"`
	IssueURL    string `json:"linear_issue_url,omitempty"`
	Resolved    bool   `json:"resolved"`
}

func (s *Server) blockersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.blockers == nil {
		writeJSON(w, http.StatusOK, []blockerView{})
		return
	}

	out := make([]blockerView, 0)
	for _, b := range s.blockers.Pending() {
		out = append(out, blockerView{
			BlockerID:   b.BlockerID,
			ServiceName: b.ServiceName,
			Question:    b.Question,
			IssueURL:    b.IssueURL,
			Resolved:    b.Resolved(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// resolveBlockerHandler routes POST /v1/blockers/{id}/resolve
func (s *Server) resolveBlockerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.blockers == nil {
		http.Error(w, "blockers not configured", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/blockers/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "resolve" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	blockerID := parts[0]

	var body struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Answer) == "" {
		http.Error(w, "answer is required", http.StatusBadRequest)
		return
	}

	if !s.blockers.Resolve(blockerID, body.Answer, s.es) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown blocker: " + blockerID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"blocker_id": blockerID, "status": "resolved"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
