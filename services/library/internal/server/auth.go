package server

import (
	"errors"
	"net/http"

	"pocketbook/pkg/domain"
	"pocketbook/services/library/internal/app"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token *string `json:"token"`
	Err   *string `json:"err"`
}

type resetPasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "library.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	session, err := s.app.Login(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, app.ErrUserNotFound), errors.Is(err, app.ErrInvalidPassword), errors.Is(err, app.ErrUserDisabled):
		s.audit(r, "library.login", "fail", "username", req.Username, "reason", err.Error())
		msg := err.Error()
		if errors.Is(err, app.ErrUserDisabled) {
			msg = app.ErrInvalidPassword.Error()
		}
		writeJSON(w, http.StatusUnauthorized, loginResponse{Err: &msg})
		return
	default:
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.login", "success", "user_id", session.User.ID)
	s.setSessionCookie(w, session.Token, session.Expires)
	writeJSON(w, http.StatusOK, loginResponse{Token: &session.Token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	c, _ := r.Cookie(sessionCookie)
	if err := s.app.Logout(r.Context(), c.Value); err != nil {
		s.audit(r, "library.logout", "error", "user_id", user.ID)
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.logout", "success", "user_id", user.ID)
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Success: true})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	info, err := s.app.Info(r.Context(), r.Header.Get(headerUserID))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.passwordLimiter, "too many password attempts") {
		s.audit(r, "library.password.reset", "rate_limited", "user_id", user.ID)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	session, err := s.app.ResetPassword(r.Context(), user.ID, req.OldPassword, req.NewPassword)
	switch {
	case err == nil:
	case errors.Is(err, app.ErrDemoMode):
		writeJSON(w, http.StatusForbidden, messageResponse{Message: err.Error()})
		return
	case errors.Is(err, app.ErrOldPasswordMismatch):
		s.audit(r, "library.password.reset", "fail", "user_id", user.ID)
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	default:
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.password.reset", "success", "user_id", user.ID)
	s.setSessionCookie(w, session.Token, session.Expires)
	writeJSON(w, http.StatusOK, messageResponse{Success: true})
}
