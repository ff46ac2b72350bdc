package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tira-io/tirad/internal/model"
)

type vmMetricsResponse struct {
	Running bool             `json:"running"`
	Metrics *model.VMMetrics `json:"metrics,omitempty"`
}

func (s *Server) handleGetVMState(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorizeUser(w, r)
	if !ok {
		return
	}
	vm, err := s.catalog.UserVM(user)
	if err != nil {
		s.writeDomainError(w, err, "failed to resolve vm")
		return
	}
	s.writeJSON(w, http.StatusOK, s.collector.CollectVMInfo(r.Context(), user, chi.URLParam(r, "task"), vm))
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorizeUser(w, r)
	if !ok {
		return
	}
	ps, err := s.collector.CollectSupervisorState(r.Context(), user)
	if err != nil {
		s.writeDomainError(w, err, "failed to query process manager")
		return
	}
	s.writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleGetVMMetrics(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorizeUser(w, r)
	if !ok {
		return
	}
	vm, err := s.catalog.UserVM(user)
	if err != nil {
		s.writeDomainError(w, err, "failed to resolve vm")
		return
	}
	ps, err := s.collector.CollectSupervisorState(r.Context(), user)
	if err != nil {
		s.writeDomainError(w, err, "failed to query process manager")
		return
	}
	m, running, err := s.collector.CollectVMMetrics(r.Context(), vm, ps)
	if err != nil {
		s.writeDomainError(w, err, "failed to collect vm metrics")
		return
	}
	resp := vmMetricsResponse{Running: running}
	if running {
		resp.Metrics = &m
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeReviewer(w, r) {
		return
	}
	procs, err := s.collector.RunningProcesses(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "failed to query process manager")
		return
	}
	s.writeJSON(w, http.StatusOK, procs)
}
