package api

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tira-io/tirad/internal/model"
)

// Headers set by the authenticating proxy in front of the server.
const (
	headerUser  = "X-Tira-User"
	headerRoles = "X-Tira-Roles"
)

type principalKey struct{}

// Principal is the authenticated caller.
type Principal struct {
	User  string
	Roles []string
}

// Reviewer reports whether the caller may moderate runs.
func (p Principal) Reviewer() bool {
	return slices.Contains(p.Roles, model.RoleReviewer)
}

// principalMiddleware rejects requests without a user header and stores
// the caller in the request context.
func principalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(headerUser))
		if user == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + headerUser + " header"})
			return
		}
		var roles []string
		for _, role := range strings.Split(r.Header.Get(headerRoles), ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
		ctx := context.WithValue(r.Context(), principalKey{}, Principal{User: user, Roles: roles})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(r *http.Request) Principal {
	p, _ := r.Context().Value(principalKey{}).(Principal)
	return p
}

// authorizeUser resolves the {user} path parameter and checks that the
// caller is that user or a reviewer. It writes 403 and returns false
// otherwise.
func (s *Server) authorizeUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := chi.URLParam(r, "user")
	p := principalFrom(r)
	if p.User != user && !p.Reviewer() {
		s.writeError(w, http.StatusForbidden, "not allowed to act for "+user)
		return "", false
	}
	return user, true
}

// authorizeReviewer writes 403 and returns false unless the caller is a
// reviewer.
func (s *Server) authorizeReviewer(w http.ResponseWriter, r *http.Request) bool {
	if !principalFrom(r).Reviewer() {
		s.writeError(w, http.StatusForbidden, "reviewer role required")
		return false
	}
	return true
}
