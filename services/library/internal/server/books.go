package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"pocketbook/internal/util"
	"pocketbook/pkg/domain"
	"pocketbook/services/library/internal/app"
)

type uploadResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Books   []app.UploadedBook `json:"books,omitempty"`
}

type progressRequest struct {
	Progress    *float64 `json:"progress"`
	ProgressStr string   `json:"progressStr"`
}

type progressResponse struct {
	Progress    float64 `json:"progress"`
	ProgressStr string  `json:"progressStr"`
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.ListBooks(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

// handleBookByID serves /api/books/{id}/progress.
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/books/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "progress" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	bookID := parts[0]
	switch r.Method {
	case http.MethodGet:
		p, err := s.app.GetProgress(r.Context(), user.ID, bookID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, progressResponse{Progress: p.Progress, ProgressStr: p.ProgressStr})
	case http.MethodPut:
		var req progressRequest
		if err := decodeJSON(r, &req); err != nil || req.Progress == nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		p, err := s.app.UpdateProgress(r.Context(), user.ID, bookID, *req.Progress, req.ProgressStr)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "progress": p.Progress})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProgressList(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	entries, err := s.app.ListProgress(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleUpload accepts up to maxUploadFiles EPUB parts. Parts that are not
// EPUBs are skipped; the request fails when none remain.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	perFile := s.app.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxUploadFiles)*perFile+1<<20)
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	var uploaded []app.UploadedBook
	committed := false
	// A rejected request keeps none of its books.
	defer func() {
		if committed || len(uploaded) == 0 {
			return
		}
		ids := make([]string, len(uploaded))
		for i, b := range uploaded {
			ids[i] = b.UUID
		}
		if err := s.app.DiscardBooks(context.WithoutCancel(r.Context()), ids...); err != nil {
			util.LoggerFromContext(r.Context()).Error("discard rejected uploads", "user_id", user.ID, "err", err)
		}
	}()
	files := 0
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeError(w, http.StatusRequestEntityTooLarge, "file too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}
		files++
		if files > s.maxUploadFiles {
			part.Close()
			writeError(w, http.StatusBadRequest, "too many files")
			return
		}
		filename, contentType := part.FileName(), part.Header.Get("Content-Type")
		if !app.IsEPub(filename, contentType) {
			part.Close()
			continue
		}
		book, err := s.app.UploadBook(r.Context(), user, filename, contentType, part)
		part.Close()
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				err = app.ErrFileTooLarge
			}
			s.audit(r, "library.upload", "fail", "user_id", user.ID, "filename", filename)
			writeAppError(w, r, err)
			return
		}
		uploaded = append(uploaded, book)
	}

	if len(uploaded) == 0 {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Message: "No valid EPUB files were uploaded."})
		return
	}
	committed = true
	s.audit(r, "library.upload", "success", "user_id", user.ID, "count", len(uploaded))
	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		Message: fmt.Sprintf("Successfully uploaded %d book(s).", len(uploaded)),
		Books:   uploaded,
	})
}

// handleContent streams /api/content/{id}[.epub].
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := pathID(r.URL.Path, "/api/content/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}
	content, err := s.app.OpenBook(r.Context(), user.ID, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer content.Body.Close()

	h := w.Header()
	h.Set("Content-Type", "application/epub+zip")
	h.Set("Content-Length", strconv.FormatInt(content.Size, 10))
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": content.Book.Title + ".epub"})
	if disposition == "" {
		disposition = `attachment; filename="book.epub"`
	}
	h.Set("Content-Disposition", disposition)
	h.Set("Cache-Control", "public, max-age=31536000")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, content.Body)
}
