package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tira-io/tirad/internal/engine"
)

// submitRunRequest is the JSON body for POST /v1/tasks/{task}/users/{user}/runs.
type submitRunRequest struct {
	SoftwareID string `json:"software_id"`
	DatasetID  string `json:"dataset_id"`
	InputRun   string `json:"input_run"`
}

// submitEvaluationRequest is the JSON body for POST .../evaluations.
type submitEvaluationRequest struct {
	RunID string `json:"run_id"`
}

// killRequest is the JSON body for POST .../kill.
type killRequest struct {
	Unsandbox bool `json:"unsandbox"`
}

type killResponse struct {
	Stopped []string `json:"stopped"`
}

type jobResponse struct {
	Job string `json:"job"`
}

func (s *Server) handleSubmitSoftwareRun(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorizeUser(w, r)
	if !ok {
		return
	}
	var req submitRunRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SoftwareID == "" || req.DatasetID == "" {
		s.writeError(w, http.StatusBadRequest, "software_id and dataset_id are required")
		return
	}

	sub, err := s.engine.SubmitSoftwareRun(r.Context(), engine.SoftwareRun{
		User:       user,
		TaskID:     chi.URLParam(r, "task"),
		SoftwareID: req.SoftwareID,
		DatasetID:  req.DatasetID,
		InputRun:   req.InputRun,
	})
	if err != nil {
		s.writeDomainError(w, err, "failed to submit run")
		return
	}
	s.writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleSubmitEvaluatorRun(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorizeUser(w, r)
	if !ok {
		return
	}
	var req submitEvaluationRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RunID == "" {
		s.writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}

	sub, err := s.engine.SubmitEvaluatorRun(r.Context(), engine.EvaluatorRun{
		User:   user,
		TaskID: chi.URLParam(r, "task"),
		RunID:  req.RunID,
	})
	if err != nil {
		s.writeDomainError(w, err, "failed to submit evaluation")
		return
	}
	s.writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorizeUser(w, r)
	if !ok {
		return
	}
	var req killRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	stopped, err := s.engine.Kill(r.Context(), user, req.Unsandbox)
	if err != nil {
		s.writeDomainError(w, err, "failed to kill jobs")
		return
	}
	if stopped == nil {
		stopped = []string{}
	}
	s.writeJSON(w, http.StatusOK, killResponse{Stopped: stopped})
}

// handleVMJob adapts one of the engine's VM operations to a handler.
func (s *Server) handleVMJob(op func(ctx context.Context, user string) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorizeUser(w, r)
		if !ok {
			return
		}
		job, err := op(r.Context(), user)
		if err != nil {
			s.writeDomainError(w, err, "failed to submit vm job")
			return
		}
		s.writeJSON(w, http.StatusAccepted, jobResponse{Job: job})
	}
}
