package api

import (
	"net/http"

	"github.com/tira-io/tirad/internal/journal"
)

// listJournalResponse wraps the paginated journal listing.
type listJournalResponse struct {
	Entries []*journal.Entry `json:"entries"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// handleListJournal lists journal entries. Reviewers may list every user
// or filter with ?user=; everyone else sees their own entries only.
func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	p := principalFrom(r)
	user := r.URL.Query().Get("user")
	if !p.Reviewer() {
		user = p.User
	}

	entries, total, err := s.journal.List(r.Context(), user, limit, offset)
	if err != nil {
		s.writeDomainError(w, err, "failed to list journal")
		return
	}
	if entries == nil {
		entries = []*journal.Entry{}
	}

	s.writeJSON(w, http.StatusOK, listJournalResponse{
		Entries: entries,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Server) handleJournalStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeReviewer(w, r) {
		return
	}
	stats, err := s.journal.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "failed to get journal stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
