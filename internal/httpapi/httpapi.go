// Package httpapi exposes the Dispatch Engine and Conductor store over HTTP
// (spec §6): submit/get/list jobs, a health probe, and a per-tenant swarm
// summary endpoint. Routing follows the plain net/http style of
// github.com/cuemby/warren/pkg/api.HealthServer (a single *http.ServeMux
// wired up in a constructor, one handler method per route) rather than
// pulling in a router framework the pack never reaches for.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jobctl/jobctl/runtime/backend"
	"github.com/jobctl/jobctl/runtime/blackboard"
	"github.com/jobctl/jobctl/runtime/dispatch"
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/ident"
	"github.com/jobctl/jobctl/runtime/job"
	"github.com/jobctl/jobctl/runtime/telemetry"
	"github.com/jobctl/jobctl/runtime/tenant"
)

// CredentialHeader carries the tenant credential (spec §6 "a credential
// header carries a tenant key").
const CredentialHeader = "X-Jobctl-Credential"

// inlineResultLimit is the largest result blob returned inline in a Get-job
// response; larger results are reported as a pointer only (spec §6 "job
// record ... result pointer or inline for small results").
const inlineResultLimit = 4096

// RunLister reports the run ids visible to a tenant, backing the "List
// agents (swarm)" capability. Implemented by features/store/mongostore's
// ConductorStore; kept narrow here so httpapi doesn't need the rest of
// conductor.Store's write surface.
type RunLister interface {
	ListRunsByTenant(ctx context.Context, tenantID string) ([]string, error)
}

// DependencyPing is a shallow liveness check for one backend dependency
// (spec §6 Health's "dependencies{queue, store, blob}").
type DependencyPing func() error

// Options configures a Server.
type Options struct {
	Dispatch *dispatch.Engine
	Store    backend.Store
	Blob     backend.Blob
	Resolver tenant.Resolver

	// RunLister and BlackboardRoot back List agents (swarm). Both optional:
	// a server with neither set reports an empty agent list rather than
	// failing, since not every deployment runs the swarm node kind.
	RunLister      RunLister
	BlackboardRoot string

	Version string
	Log     telemetry.Logger

	// PingQueue, PingStore, PingBlob back the Health capability's
	// per-dependency status (spec §6). Nil means "not configured", reported
	// as "unknown" rather than "ok" or "error".
	PingQueue DependencyPing
	PingStore DependencyPing
	PingBlob  DependencyPing
}

// Server implements the spec §6 HTTP surface.
type Server struct {
	opts Options
	mux  *http.ServeMux
}

// New builds a Server and registers its routes.
func New(opts Options) (*Server, error) {
	if opts.Dispatch == nil {
		return nil, errs.New(errs.KindValidation, "dispatch engine is required")
	}
	if opts.Store == nil {
		return nil, errs.New(errs.KindValidation, "store is required")
	}
	if opts.Resolver == nil {
		return nil, errs.New(errs.KindValidation, "tenant resolver is required")
	}
	if opts.Log == nil {
		opts.Log = telemetry.NoOp{}
	}

	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /v1/jobs", s.withTenant(s.handleSubmit))
	s.mux.HandleFunc("GET /v1/jobs", s.withTenant(s.handleList))
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.withTenant(s.handleGet))
	s.mux.HandleFunc("GET /v1/agents", s.withTenant(s.handleListAgents))
	return s, nil
}

// ServeHTTP implements http.Handler, so Server can be embedded directly in
// an *http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// withTenant resolves the request's credential to a tenant id and makes it
// available to the wrapped handler via tenantCtxKey. An unknown credential
// is a 401 (spec §6); the resolver itself decides what "unknown" means,
// including the auth-disabled short circuit to tenant.Default.
func (s *Server) withTenant(next func(w http.ResponseWriter, r *http.Request, tenantID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := r.Header.Get(CredentialHeader)
		tenantID, err := s.opts.Resolver.Resolve(r.Context(), credential)
		if err != nil {
			writeError(w, http.StatusUnauthorized, errs.New(errs.KindValidation, "unknown credential"))
			return
		}
		next(w, r, tenantID)
	}
}

// submitRequest is the POST /v1/jobs request body. type and payload are
// opaque to httpapi; the registered schema (if any) and executor strategy
// interpret them (spec §6 "Job payloads").
type submitRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errs.Wrap(errs.KindValidation, err))
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, errs.New(errs.KindValidation, "type is required"))
		return
	}

	jobID := uuid.NewString()
	if _, err := ident.Validate(jobID, ident.KindRun); err != nil {
		writeError(w, http.StatusInternalServerError, errs.Wrap(errs.KindPermanentBackend, err))
		return
	}

	if err := s.opts.Dispatch.Submit(r.Context(), jobID, tenantID, req.Type, req.Payload); err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: jobID})
}

// jobResponse is the Get/List job wire shape (spec §6 "job record").
type jobResponse struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	State         job.State       `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ResultPointer string          `json:"result_pointer,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

func (s *Server) toJobResponse(r *http.Request, j *job.Job) jobResponse {
	resp := jobResponse{
		ID: j.ID, Type: j.Type, State: j.State,
		CreatedAt: j.CreatedAt, UpdatedAt: j.UpdatedAt,
		ResultPointer: j.ResultPointer, ErrorKind: j.ErrorKind, ErrorMessage: j.ErrorMessage,
	}
	if j.State == job.StateSucceeded && j.ResultPointer != "" && s.opts.Blob != nil {
		if data, err := s.opts.Blob.Get(r.Context(), j.ResultPointer); err == nil && len(data) <= inlineResultLimit {
			resp.Result = json.RawMessage(data)
		}
	}
	return resp
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, tenantID string) {
	jobID := r.PathValue("id")
	j, err := s.opts.Store.GetJob(r.Context(), tenantID, jobID)
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toJobResponse(r, j))
}

type listResponse struct {
	Jobs []jobResponse `json:"jobs"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, tenantID string) {
	q := r.URL.Query()
	filter := backend.JobFilter{Type: q.Get("type")}
	if raw := q.Get("state"); raw != "" {
		state := job.State(raw)
		filter.State = &state
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errs.New(errs.KindValidation, "limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	jobs, err := s.opts.Store.ListJobs(r.Context(), tenantID, filter)
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	resp := listResponse{Jobs: make([]jobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, s.toJobResponse(r, j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// agentSummary is one blackboard Agent flattened with its run id (spec §6
// "per-run blackboard summaries").
type agentSummary struct {
	RunID       string               `json:"run_id"`
	AgentID     string               `json:"agent_id"`
	Task        string               `json:"task"`
	State       blackboard.AgentState `json:"state"`
	HeartbeatAt time.Time            `json:"heartbeat_at"`
}

type listAgentsResponse struct {
	Agents []agentSummary `json:"agents"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request, tenantID string) {
	resp := listAgentsResponse{Agents: []agentSummary{}}
	if s.opts.RunLister == nil || s.opts.BlackboardRoot == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	runIDs, err := s.opts.RunLister.ListRunsByTenant(r.Context(), tenantID)
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	for _, runID := range runIDs {
		board, err := blackboard.Open(s.opts.BlackboardRoot, runID)
		if err != nil {
			// No blackboard file means the run never reached a swarm node;
			// not every run has one.
			continue
		}
		doc, err := board.Snapshot()
		if err != nil {
			s.opts.Log.Warn(r.Context(), "blackboard snapshot failed", "run_id", runID, "err", err)
			continue
		}
		for agentID, agent := range doc.Agents {
			resp.Agents = append(resp.Agents, agentSummary{
				RunID: runID, AgentID: agentID, Task: agent.Task,
				State: agent.State, HeartbeatAt: agent.HeartbeatAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// healthResponse mirrors spec §6's Health capability shape.
type healthResponse struct {
	OK           bool              `json:"ok"`
	Version      string            `json:"version,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	deps := map[string]string{
		"queue": pingStatus(s.opts.PingQueue),
		"store": pingStatus(s.opts.PingStore),
		"blob":  pingStatus(s.opts.PingBlob),
	}
	ok := true
	for _, v := range deps {
		if v == "error" {
			ok = false
		}
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{OK: ok, Version: s.opts.Version, Dependencies: deps})
}

func pingStatus(ping DependencyPing) string {
	if ping == nil {
		return "unknown"
	}
	if err := ping(); err != nil {
		return "error"
	}
	return "ok"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorResponse surfaces error_kind/error_message (spec §7 "user-visible
// behavior").
type errorResponse struct {
	Kind    string `json:"error_kind"`
	Message string `json:"error_message"`
}

func writeError(w http.ResponseWriter, status int, err *errs.Error) {
	writeJSON(w, status, errorResponse{Kind: string(err.Kind), Message: err.Message})
}

// writeHandlerError maps an errs.Kind to its HTTP status (spec §7
// taxonomy).
func writeHandlerError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindConflict:
		status = http.StatusConflict
	case errs.KindTimeout:
		status = http.StatusGatewayTimeout
	case errs.KindSecurity:
		status = http.StatusForbidden
	case errs.KindTransientBackend:
		status = http.StatusServiceUnavailable
	case errs.KindHandler, errs.KindPermanentBackend:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorResponse{Kind: string(kind), Message: err.Error()})
}
