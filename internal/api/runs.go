package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tira-io/tirad/internal/model"
	"github.com/tira-io/tirad/internal/state"
)

// visibilityRequest is the JSON body for PUT .../review/visibility.
type visibilityRequest struct {
	Published *bool `json:"published"`
	Blinded   *bool `json:"blinded"`
}

type listRunsResponse struct {
	Runs []*model.ExtendedRun `json:"runs"`
}

func runKey(r *http.Request) model.RunKey {
	return model.RunKey{
		Dataset: chi.URLParam(r, "dataset"),
		User:    chi.URLParam(r, "user"),
		RunID:   chi.URLParam(r, "run"),
	}
}

func viewer(r *http.Request) state.Viewer {
	return state.Viewer{Reviewer: principalFrom(r).Reviewer()}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorizeUser(w, r); !ok {
		return
	}
	er, err := s.collector.ExtendedRun(r.Context(), runKey(r), viewer(r))
	if err != nil {
		s.writeDomainError(w, err, "failed to get run")
		return
	}
	s.writeJSON(w, http.StatusOK, er)
}

func (s *Server) handleListUserRuns(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorizeUser(w, r)
	if !ok {
		return
	}
	keys, err := s.runs.ListUserRuns(user)
	if err != nil {
		s.writeDomainError(w, err, "failed to list runs")
		return
	}
	runs, err := s.collector.UserRuns(r.Context(), keys, viewer(r))
	if err != nil {
		s.writeDomainError(w, err, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*model.ExtendedRun{}
	}
	s.writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs})
}

func (s *Server) handleUpdateReview(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeReviewer(w, r) {
		return
	}
	var c model.ReviewCriteria
	if err := decodeBody(w, r, &c); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rr, err := s.runs.UpdateReviewCriteria(r.Context(), runKey(r), principalFrom(r).User, c)
	if err != nil {
		s.writeDomainError(w, err, "failed to update review")
		return
	}
	s.writeJSON(w, http.StatusOK, rr)
}

func (s *Server) handleUpdateVisibility(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeReviewer(w, r) {
		return
	}
	var req visibilityRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Published == nil && req.Blinded == nil {
		s.writeError(w, http.StatusBadRequest, "published or blinded is required")
		return
	}
	rr, err := s.runs.UpdateReviewVisibility(r.Context(), runKey(r), principalFrom(r).User, req.Published, req.Blinded)
	if err != nil {
		s.writeDomainError(w, err, "failed to update review")
		return
	}
	s.writeJSON(w, http.StatusOK, rr)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorizeUser(w, r); !ok {
		return
	}
	if err := s.runs.DeleteRun(runKey(r)); err != nil {
		s.writeDomainError(w, err, "failed to delete run")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
