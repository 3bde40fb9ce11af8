package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dd0wney/cluso-gridsim/pkg/api/middleware"
	"github.com/dd0wney/cluso-gridsim/pkg/archive"
	"github.com/dd0wney/cluso-gridsim/pkg/history"
	"github.com/dd0wney/cluso-gridsim/pkg/logging"
	"github.com/dd0wney/cluso-gridsim/pkg/sim"
)

const (
	msgAlreadyRunning = "Simulation already running"
	msgNoParameters   = "No parameters provided. Please set parameters before running the simulation."
	msgNoData         = "No data provided"
)

func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	networks := s.svc.Networks()
	if networks == nil {
		networks = []string{}
	}
	s.respondJSON(w, http.StatusOK, NetworksResponse{Networks: networks})
}

func (s *Server) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, ParametersResponse{
		Status:     statusSuccess,
		Parameters: s.svc.Parameters(),
	})
}

func (s *Server) handleSetParameters(w http.ResponseWriter, r *http.Request) {
	patch, err := readPatch(r)
	if err != nil {
		s.respondBodyError(w, err, msgNoData)
		return
	}

	updated, err := s.svc.SetParameters(patch)
	if err != nil {
		s.respondStatus(w, http.StatusBadRequest, statusError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, ParametersResponse{Status: statusSuccess, Parameters: updated})
}

func (s *Server) handleStartSimulation(w http.ResponseWriter, r *http.Request) {
	if s.svc.Running() {
		s.respondStatus(w, http.StatusBadRequest, statusError, msgAlreadyRunning)
		return
	}

	patch, err := readPatch(r)
	if err != nil {
		s.respondBodyError(w, err, msgNoParameters)
		return
	}

	runID, err := s.svc.StartPatch(patch)
	switch {
	case err == nil:
	case errors.Is(err, sim.ErrAlreadyRunning):
		s.respondStatus(w, http.StatusBadRequest, statusError, msgAlreadyRunning)
		return
	case errors.Is(err, sim.ErrNoParameters):
		s.respondStatus(w, http.StatusBadRequest, statusError, msgNoParameters)
		return
	case errors.Is(err, sim.ErrShutdown):
		s.respondStatus(w, http.StatusServiceUnavailable, statusError, "Server is shutting down")
		return
	default:
		s.respondStatus(w, http.StatusBadRequest, statusError, err.Error())
		return
	}

	fields := []logging.Field{logging.RunID(runID), logging.String("request_id", middleware.GetRequestID(r))}
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		fields = append(fields, logging.String("subject", claims.Subject))
	}
	s.logger.Info("simulation start accepted", fields...)

	s.respondJSON(w, http.StatusOK, StatusResponse{
		Status:  statusSuccess,
		Message: "Simulation started",
		RunID:   runID,
	})
}

func (s *Server) handleStopSimulation(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Stop() {
		s.respondStatus(w, http.StatusConflict, statusError, "No simulation running")
		return
	}
	s.respondStatus(w, http.StatusOK, statusSuccess, "Simulation stop requested")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Info())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.svc.LastResult()
	if !ok {
		s.respondError(w, http.StatusNotFound, "No results available")
		return
	}
	s.respondJSON(w, http.StatusOK, rs)
}

func (s *Server) handleArchivedResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rs, err := s.svc.Archived(r.Context(), id)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusOK, rs)
	case errors.Is(err, archive.ErrInvalidRunID):
		s.respondError(w, http.StatusBadRequest, "Invalid run id")
	case errors.Is(err, archive.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "Run not found")
	default:
		s.logger.Error("archive lookup failed", logging.RunID(id), logging.Error(err))
		s.respondError(w, http.StatusInternalServerError, "Archive lookup failed")
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	store := s.svc.History()
	if store == nil {
		s.respondError(w, http.StatusNotFound, "Run history is not configured")
		return
	}

	limit := history.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := store.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", logging.Error(err))
		s.respondError(w, http.StatusInternalServerError, "History query failed")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	s.respondJSON(w, http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// respondBodyError maps a readPatch failure to a response
func (s *Server) respondBodyError(w http.ResponseWriter, err error, emptyMessage string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, errEmptyBody):
		s.respondStatus(w, http.StatusBadRequest, statusError, emptyMessage)
	case errors.As(err, &maxErr):
		s.respondStatus(w, http.StatusRequestEntityTooLarge, statusError, "Request body too large")
	default:
		s.respondStatus(w, http.StatusBadRequest, statusError, err.Error())
	}
}
