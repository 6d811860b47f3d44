package http

import (
	"context"
	"errors"
	"net/http"

	"haushalt/internal/auth"
	"haushalt/internal/core"
	"haushalt/internal/log"
)

type userContextKey struct{}

// requireUser authenticates the request's Basic credentials and stores the
// user in the context. Requests without valid credentials get 401.
func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			writeUnauthorized(w)
			return
		}

		u, err := s.auth.Authenticate(r.Context(), username, password)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.FromContext(r.Context()).WithComponent(log.ComponentAuth).
				InfoContext(r.Context(), "Authentication failed", "username", username)
			writeUnauthorized(w)
			return
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey{}, u)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUserID, u.ID))
		next(w, r.WithContext(ctx))
	}
}

func userFrom(ctx context.Context) core.User {
	u, _ := ctx.Value(userContextKey{}).(core.User)
	return u
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := s.auth.Register(r.Context(), sanitizeInput(req.Username), req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	log.FromContext(r.Context()).WithComponent(log.ComponentAuth).
		InfoContext(r.Context(), "User registered", log.FieldUserID, u.ID)
	writeJSON(w, http.StatusCreated, newUserBody(u))
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newUserBody(userFrom(r.Context())))
}
