package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"pocketbook/internal/util"
	"pocketbook/services/library/internal/app"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForLibrary(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps application errors to a status and client message.
// Unexpected errors are logged and reported as 500 without detail.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidProgress):
		writeError(w, http.StatusBadRequest, app.ErrInvalidProgress.Error())
	case errors.Is(err, app.ErrInvalidSearchID):
		writeError(w, http.StatusBadRequest, app.ErrInvalidSearchID.Error())
	case errors.Is(err, app.ErrNotEPub):
		writeError(w, http.StatusBadRequest, app.ErrNotEPub.Error())
	case errors.Is(err, app.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, app.ErrFileTooLarge.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrBookNotFound):
		writeError(w, http.StatusNotFound, app.ErrBookNotFound.Error())
	case errors.Is(err, app.ErrCollectionNotFound):
		writeError(w, http.StatusNotFound, app.ErrCollectionNotFound.Error())
	case errors.Is(err, app.ErrUsernameTaken):
		writeError(w, http.StatusConflict, app.ErrUsernameTaken.Error())
	case errors.Is(err, app.ErrNotImplemented):
		writeError(w, http.StatusNotImplemented, app.ErrNotImplemented.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorCodeForLibrary(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "forbidden":
		return "AUTH_FORBIDDEN"
	case message == "too many login attempts", message == "too many password attempts":
		return "SYSTEM_RATE_LIMITED"
	case message == "username already exists":
		return "AUTH_USERNAME_TAKEN"
	case message == "book not found":
		return "BOOK_NOT_FOUND"
	case message == "file too large":
		return "BOOK_FILE_TOO_LARGE"
	case message == "too many files":
		return "BOOK_TOO_MANY_FILES"
	case strings.Contains(message, "unsupported file type"), message == "no valid epub files were uploaded.":
		return "BOOK_UNSUPPORTED_FILE_TYPE"
	case message == "invalid form data":
		return "BOOK_INVALID_UPLOAD_FORM"
	case message == "collection not found":
		return "COLLECTION_NOT_FOUND"
	case strings.HasPrefix(message, "progress"):
		return "PROGRESS_INVALID"
	case strings.HasPrefix(message, "search id"):
		return "SEARCH_INVALID_ID"
	case message == "invalid json body":
		return "REQUEST_INVALID_JSON"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not implemented":
		return "SYSTEM_NOT_IMPLEMENTED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "AUTH_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "SYSTEM_RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
