// Package server exposes the pipeline over a minimal HTTP interface for
// manual testing: question in, report path or structured failure out.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/logging"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/pipeline"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/types"
)

// AskRequest is the POST /ask body.
type AskRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

// AskResponse is the POST /ask reply. Exactly one of Report and Failure is
// set.
type AskResponse struct {
	Report  *types.Report `json:"report,omitempty"`
	Failure *Failure      `json:"failure,omitempty"`
}

// Failure describes which stage failed and why.
type Failure struct {
	Stage string `json:"stage"`
	Cause string `json:"cause"`
}

// Server wraps a pipeline Runner.
type Server struct {
	runner  *pipeline.Runner
	timeout time.Duration
}

// New creates a Server. timeout bounds one full pipeline run.
func New(runner *pipeline.Runner, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Server{runner: runner, timeout: timeout}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ListenAndServe blocks serving HTTP until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	logging.Server("listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	reqID := uuid.NewString()[:8]
	logging.Server("[%s] ask: %q", reqID, req.Question)

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	rep, err := s.runner.Run(ctx, types.Question{Text: req.Question, SessionID: req.SessionID})
	if err != nil {
		resp := AskResponse{Failure: &Failure{Stage: "internal", Cause: err.Error()}}
		if sf, ok := pipeline.AsStageFailure(err); ok {
			resp.Failure = &Failure{Stage: string(sf.Stage), Cause: sf.Cause.Error()}
		}
		logging.ServerError("[%s] failed at %s: %s", reqID, resp.Failure.Stage, resp.Failure.Cause)
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	logging.Server("[%s] report: %s", reqID, rep.Path)
	writeJSON(w, http.StatusOK, AskResponse{Report: &rep})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ServerError("encode response: %v", err)
	}
}
