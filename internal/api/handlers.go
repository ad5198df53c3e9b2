package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/crewgate/internal/agent"
	"github.com/mattjoyce/crewgate/internal/auth"
	"github.com/mattjoyce/crewgate/internal/jobs"
	"github.com/mattjoyce/crewgate/internal/tools"
)

// maxBodyBytes bounds tool argument bodies.
const maxBodyBytes = 8 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		JobsRunning:   len(s.jobs.List(jobs.FilterActive, math.MaxInt)),
		JobsTracked:   s.jobs.Len(),
	})
}

// handleListTools handles GET /tools.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"tools": s.tools.List()})
}

// toolScope is the scope a tool call requires.
func toolScope(name string) string {
	switch name {
	case tools.WaitJob, tools.CheckJob, tools.ListJobs:
		return auth.ScopeJobsRead
	case tools.KillJob:
		return auth.ScopeJobsWrite
	default:
		return auth.ScopeAgents
	}
}

// handleCallTool handles POST /tools/{name}. The body is the tool's
// argument object. Tool-level failures come back 200 with isError set.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	principal, _ := auth.PrincipalFromContext(r.Context())
	if !auth.HasAnyScope(principal, toolScope(name)) {
		s.writeError(w, http.StatusForbidden, "insufficient scope for tool "+name)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 && !json.Valid(body) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.tools.Call(r.Context(), name, body)
	if err != nil {
		switch {
		case errors.Is(err, tools.ErrUnknownTool):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, tools.ErrHiddenTool):
			s.writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, tools.ErrInvalidArguments):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("tool call failed", "tool", name, "error", err)
			s.writeError(w, http.StatusInternalServerError, "tool call failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleListJobs handles GET /jobs?status=&limit=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := jobs.ParseFilter(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}
	list := s.jobs.List(filter, limit)
	if list == nil {
		list = []jobs.Info{}
	}
	respondJSON(w, http.StatusOK, JobListResponse{Jobs: list})
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	info, err := s.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// handleWaitJob handles POST /jobs/{jobID}/wait?timeout_ms=. The registry
// caps the timeout.
func (s *Server) handleWaitJob(w http.ResponseWriter, r *http.Request) {
	var timeout time.Duration
	if v := r.URL.Query().Get("timeout_ms"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 || ms > agent.MaxTimeoutMS {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("timeout_ms must be an integer between 0 and %d", agent.MaxTimeoutMS))
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	res, err := s.jobs.Wait(r.Context(), chi.URLParam(r, "jobID"), timeout)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, WaitResponse{WaitResult: *res, TimedOut: res.TimedOut})
}

// handleKillJob handles POST /jobs/{jobID}/kill.
func (s *Server) handleKillJob(w http.ResponseWriter, r *http.Request) {
	info, err := s.jobs.Kill(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.tools.List()))
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		s.logger.Error("job operation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("job operation failed: %v", err))
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
