package server

import (
	"fmt"
	"net/http"
	"strings"

	"bookhaven/internal/util"
	"bookhaven/pkg/auth"
	"bookhaven/services/bookstore/internal/security"
)

// gate attaches the caller identity for requests carrying a valid bearer
// token. It is fail-open: a missing, invalid or expired token only leaves the
// request unauthenticated, and handlers that need an identity reject it.
func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicRoute(r) {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if id, ok := s.identify(r, token); ok {
			r = r.WithContext(auth.ContextWithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) identify(r *http.Request, token string) (id auth.Identity, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			util.LoggerFromContext(r.Context()).Warn("auth gate panic", "panic", fmt.Sprint(rec))
			id, ok = auth.Identity{}, false
		}
	}()
	id, err := s.app.Authenticate(r.Context(), token)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("token rejected", "path", r.URL.Path, "err", err)
		s.audit(r, security.EventAuthorize, security.OutcomeFail)
		return auth.Identity{}, false
	}
	return id, true
}

// publicRoute reports whether the gate skips token processing. Every catalog
// read is public except the caller's own listing.
func publicRoute(r *http.Request) bool {
	path := r.URL.Path
	switch r.Method {
	case http.MethodPost:
		return path == "/auth/login" || path == "/auth/register"
	case http.MethodGet:
		if path == "/healthz" {
			return true
		}
		if path == "/books/mine" {
			return false
		}
		return path == "/books" || strings.HasPrefix(path, "/books/")
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
