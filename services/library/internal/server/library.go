package server

import (
	"net/http"

	"pocketbook/pkg/domain"
	"pocketbook/services/library/internal/app"
)

type createCollectionRequest struct {
	Name    string   `json:"name"`
	BookIDs []string `json:"bookIds"`
}

type createUserRequest struct {
	Username   string  `json:"username"`
	Permission *int    `json:"permission"`
	Password   *string `json:"password"`
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request, _ domain.User) {
	switch r.Method {
	case http.MethodGet:
		cols, err := s.app.ListCollections(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "collections": cols})
	case http.MethodPost:
		var req createCollectionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		c, err := s.app.CreateCollection(r.Context(), req.Name, req.BookIDs)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "collection": c})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCollectionByID(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := pathID(r.URL.Path, "/api/collections/")
	if id == "" {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	c, err := s.app.GetCollection(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	res, err := s.app.SearchID(r.Context(), pathID(r.URL.Path, "/api/search/"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		users, err := s.app.ListUsers(r.Context(), user)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	case http.MethodPost:
		var req createUserRequest
		if err := decodeJSON(r, &req); err != nil || req.Permission == nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		created, err := s.app.CreateUser(r.Context(), user, app.CreateUserInput{
			Username:   req.Username,
			Permission: *req.Permission,
			Password:   req.Password,
		})
		if err != nil {
			s.audit(r, "library.admin.user.create", "fail", "user_id", user.ID, "username", req.Username)
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "library.admin.user.create", "success", "user_id", user.ID, "target_user_id", created.ID)
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := pathID(r.URL.Path, "/api/admin/users/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteUser(r.Context(), user, id); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
