// Package api exposes the scheduler over HTTP: bead and workflow operations
// as small JSON request/response bodies, in the same net/http style the
// teacher uses for its metrics server (http.Handle + http.ListenAndServe),
// replacing the gRPC surface the teacher built on generated protobuf code
// that isn't available in this exercise.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cuemby/beads/pkg/beaderr"
	"github.com/cuemby/beads/pkg/idempotency"
	"github.com/cuemby/beads/pkg/log"
	"github.com/cuemby/beads/pkg/metrics"
	"github.com/cuemby/beads/pkg/scheduler"
	"github.com/cuemby/beads/pkg/types"
)

// Server is the HTTP front door onto a Scheduler.
type Server struct {
	sched  *scheduler.Scheduler
	idem   *idempotency.Store
	logger zerolog.Logger
	srv    *http.Server
}

// NewServer constructs a Server for sched, routed but not yet listening.
// Bead submission is deduplicated through an idempotency.Store keyed by
// bead id and request body, so a client retrying POST /workflows/{id}/beads
// after a dropped response never double-schedules.
func NewServer(sched *scheduler.Scheduler) *Server {
	s := &Server{sched: sched, idem: idempotency.NewStore(), logger: log.WithComponent("api")}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /workflows/{workflow_id}/register", s.handleRegisterWorkflow)
	mux.HandleFunc("DELETE /workflows/{workflow_id}", s.handleUnregisterWorkflow)
	mux.HandleFunc("POST /workflows/{workflow_id}/dependencies", s.handleAddDependency)
	mux.HandleFunc("POST /workflows/{workflow_id}/beads", s.handleScheduleBead)
	mux.HandleFunc("GET /beads", s.handleListBeads)
	mux.HandleFunc("GET /beads/{bead_id}", s.handleGetBead)
	mux.HandleFunc("POST /beads/{bead_id}/ready", s.handleMarkReady)
	mux.HandleFunc("POST /beads/{bead_id}/assign", s.handleAssign)
	mux.HandleFunc("POST /beads/{bead_id}/complete", s.handleComplete)
	mux.HandleFunc("POST /beads/{bead_id}/fail", s.handleFail)
	mux.HandleFunc("POST /beads/{bead_id}/cancel", s.handleCancel)

	s.srv = &http.Server{Handler: withRequestMetrics(mux)}
	return s
}

// Start listens on addr and serves until Stop is called. It blocks the
// caller the same way http.Server.ListenAndServe does; run it in a
// goroutine.
func (s *Server) Start(addr string) error {
	s.srv.Addr = addr
	s.logger.Info().Str("addr", addr).Msg("api server listening")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func withRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, http.StatusText(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := beaderr.CodeOf(err)
	status := httpStatus(code)
	msg := err.Error()
	if code == "" {
		code = "INTERNAL"
	}
	writeJSON(w, status, errorBody{Code: string(code), Message: msg})
}

func httpStatus(code beaderr.Code) int {
	switch code {
	case beaderr.UnknownBead, beaderr.CheckpointNotFound:
		return http.StatusNotFound
	case beaderr.IllegalTransition, beaderr.CycleDetected, beaderr.CapabilityMismatch,
		beaderr.VersionMismatch, beaderr.DeserializationFailed:
		return http.StatusConflict
	case beaderr.Cancelled:
		return http.StatusGone
	case beaderr.Timeout:
		return http.StatusGatewayTimeout
	case beaderr.PoolExhausted, beaderr.RetryExceeded, beaderr.StoreFailed, beaderr.DecompressionFailed:
		return http.StatusServiceUnavailable
	case "":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: "missing body"})
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) handleRegisterWorkflow(w http.ResponseWriter, r *http.Request) {
	s.sched.RegisterWorkflow(r.PathValue("workflow_id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnregisterWorkflow(w http.ResponseWriter, r *http.Request) {
	s.sched.UnregisterWorkflow(r.PathValue("workflow_id"))
	w.WriteHeader(http.StatusNoContent)
}

type addDependencyRequest struct {
	From string         `json:"from"`
	To   string         `json:"to"`
	Kind types.EdgeKind `json:"kind"`
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req addDependencyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Kind == "" {
		req.Kind = types.BlockingDependency
	}
	if err := s.sched.AddDependency(r.PathValue("workflow_id"), req.From, req.To, req.Kind); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScheduleBead(w http.ResponseWriter, r *http.Request) {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: "missing body"})
		return
	}
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: "reading body: " + err.Error()})
		return
	}

	var bead types.Bead
	if err := json.Unmarshal(raw, &bead); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: "invalid JSON: " + err.Error()})
		return
	}
	workflowID := r.PathValue("workflow_id")

	result, err := s.idem.GetOrCompute(idempotency.Key(bead.ID, raw), func() ([]byte, error) {
		if err := s.sched.ScheduleBead(workflowID, &bead); err != nil {
			return nil, err
		}
		return json.Marshal(&bead)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(result)
}

func (s *Server) handleListBeads(w http.ResponseWriter, r *http.Request) {
	beads := s.sched.ListBeads(r.URL.Query().Get("workflow_id"))
	writeJSON(w, http.StatusOK, beads)
}

func (s *Server) handleGetBead(w http.ResponseWriter, r *http.Request) {
	bead, err := s.sched.GetBead(r.PathValue("bead_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bead)
}

func (s *Server) handleMarkReady(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.MarkReady(r.PathValue("bead_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRequest struct {
	WorkerID string `json:"worker_id"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.sched.AssignToWorker(r.PathValue("bead_id"), req.WorkerID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.HandleBeadCompleted(r.PathValue("bead_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type failRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.sched.HandleBeadFailed(r.PathValue("bead_id"), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.HandleBeadCancelled(r.PathValue("bead_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
