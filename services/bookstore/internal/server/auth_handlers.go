package server

import (
	"net/http"

	"bookhaven/pkg/auth"
	"bookhaven/pkg/domain"
	"bookhaven/services/bookstore/internal/security"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type authResponse struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Email    string          `json:"email"`
	Role     domain.UserRole `json:"role"`
	Token    string          `json:"token"`
}

func newAuthResponse(user domain.User, token string) authResponse {
	return authResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
		Token:    token,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.registerLimiter, security.EventRegister) {
		return
	}
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.app.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.audit(r, security.EventRegister, security.OutcomeFail, "email", req.Email)
		writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventRegister, security.OutcomeSuccess, "user_id", user.ID)
	writeJSON(w, http.StatusCreated, newAuthResponse(user, token))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, security.EventLogin) {
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Email, req.Password, req.RememberMe)
	if err != nil {
		s.audit(r, security.EventLogin, security.OutcomeFail, "email", req.Email)
		writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventLogin, security.OutcomeSuccess, "user_id", user.ID, "remember_me", req.RememberMe)
	writeJSON(w, http.StatusOK, newAuthResponse(user, token))
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, id auth.Identity) {
	writeJSON(w, http.StatusOK, map[string]any{
		"email": id.Email,
		"roles": id.Roles,
	})
}

func (s *Server) handleValidateToken(w http.ResponseWriter, _ *http.Request, _ auth.Identity) {
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}
