package server

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pocketbook/pkg/domain"
	"pocketbook/pkg/epub/epubtest"
	"pocketbook/services/library/internal/app"
)

var coverBytes = []byte("\x89PNG\r\n\x1a\nserver-cover")

func TestUploadListAndDownload(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.addUser(t, "alice", "secret-pw", domain.PermissionUploader)
	cookie := ts.login(t, "alice", "secret-pw")

	book := epubtest.Book(t, `Dune "Deluxe"`, coverBytes)
	body, ct := multipartBody(t,
		uploadFile{name: "dune.epub", data: book},
		uploadFile{name: "notes.txt", contentType: "text/plain", data: []byte("skip me")},
	)
	rec := ts.do(t, http.MethodPost, "/api/upload", body, cookie, map[string]string{"Content-Type": ct})
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d body=%s", rec.Code, rec.Body.String())
	}
	up := decodeBody[uploadResponse](t, rec)
	if !up.Success || up.Message != "Successfully uploaded 1 book(s)." || len(up.Books) != 1 {
		t.Fatalf("upload = %+v", up)
	}
	id := up.Books[0].UUID

	rec = ts.do(t, http.MethodGet, "/api/books", nil, cookie, nil)
	list := decodeBody[[]app.BookListing](t, rec)
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(coverBytes)
	if len(list) != 1 || list[0].UUID != id || list[0].Title != `Dune "Deluxe"` || list[0].Cover != want {
		t.Fatalf("list = %+v", list)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("listing Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}

	rec = ts.do(t, http.MethodGet, "/api/content/"+id+".epub", nil, cookie, nil)
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), book) {
		t.Fatalf("content status = %d, %d bytes", rec.Code, rec.Body.Len())
	}
	h := rec.Header()
	if h.Get("Content-Type") != "application/epub+zip" {
		t.Fatalf("Content-Type = %q", h.Get("Content-Type"))
	}
	if h.Get("Cache-Control") != "public, max-age=31536000" {
		t.Fatalf("Cache-Control = %q", h.Get("Cache-Control"))
	}
	if got := h.Get("Content-Disposition"); got != `attachment; filename="Dune \"Deluxe\".epub"` {
		t.Fatalf("Content-Disposition = %q", got)
	}

	rec = ts.do(t, http.MethodGet, "/api/content/missing", nil, cookie, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing content = %d", rec.Code)
	}
	if resp := decodeBody[errorResponse](t, rec); resp.Code != "BOOK_NOT_FOUND" {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestUploadRejections(t *testing.T) {
	ts := newTestServer(t, nil, func(c *Config) { c.MaxUploadFiles = 2 })
	ts.addUser(t, "alice", "secret-pw", domain.PermissionUploader)
	cookie := ts.login(t, "alice", "secret-pw")

	body, ct := multipartBody(t, uploadFile{name: "notes.txt", data: []byte("text")})
	rec := ts.do(t, http.MethodPost, "/api/upload", body, cookie, map[string]string{"Content-Type": ct})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no epub status = %d", rec.Code)
	}
	if resp := decodeBody[uploadResponse](t, rec); resp.Success || resp.Message != "No valid EPUB files were uploaded." {
		t.Fatalf("no epub response = %+v", resp)
	}

	book := epubtest.Book(t, "Book", nil)
	body, ct = multipartBody(t,
		uploadFile{name: "a.epub", data: book},
		uploadFile{name: "b.epub", data: book},
		uploadFile{name: "c.epub", data: book},
	)
	rec = ts.do(t, http.MethodPost, "/api/upload", body, cookie, map[string]string{"Content-Type": ct})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("too many files status = %d", rec.Code)
	}
	if resp := decodeBody[errorResponse](t, rec); resp.Code != "BOOK_TOO_MANY_FILES" {
		t.Fatalf("code = %q", resp.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/upload", strings.NewReader("{}"), cookie, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non multipart status = %d", rec.Code)
	}
}

func TestRejectedUploadKeepsNoBooks(t *testing.T) {
	book := epubtest.Book(t, "Book", nil)
	ts := newTestServer(t, func(c *app.Config) { c.MaxUploadBytes = int64(len(book)) + 16 }, func(c *Config) { c.MaxUploadFiles = 2 })
	ts.addUser(t, "alice", "secret-pw", domain.PermissionUploader)
	cookie := ts.login(t, "alice", "secret-pw")

	cases := []struct {
		name   string
		files  []uploadFile
		status int
	}{
		{
			name: "too many files",
			files: []uploadFile{
				{name: "a.epub", data: book},
				{name: "b.epub", data: book},
				{name: "c.epub", data: book},
			},
			status: http.StatusBadRequest,
		},
		{
			name: "oversized second file",
			files: []uploadFile{
				{name: "a.epub", data: book},
				{name: "big.epub", data: bytes.Repeat([]byte("x"), len(book)+64)},
			},
			status: http.StatusRequestEntityTooLarge,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, tc.files...)
			rec := ts.do(t, http.MethodPost, "/api/upload", body, cookie, map[string]string{"Content-Type": ct})
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d body=%s", rec.Code, tc.status, rec.Body.String())
			}
			books, err := ts.store.ListBooks(t.Context())
			if err != nil {
				t.Fatalf("list books: %v", err)
			}
			if len(books) != 0 {
				t.Fatalf("rejected upload left %d book(s) behind", len(books))
			}
		})
	}

	body, ct := multipartBody(t, uploadFile{name: "a.epub", data: book}, uploadFile{name: "b.epub", data: book})
	rec := ts.do(t, http.MethodPost, "/api/upload", body, cookie, map[string]string{"Content-Type": ct})
	if rec.Code != http.StatusOK {
		t.Fatalf("accepted upload status = %d body=%s", rec.Code, rec.Body.String())
	}
	if books, _ := ts.store.ListBooks(t.Context()); len(books) != 2 {
		t.Fatalf("accepted upload stored %d book(s), want 2", len(books))
	}
}

func TestUploadFileTooLarge(t *testing.T) {
	ts := newTestServer(t, func(c *app.Config) { c.MaxUploadBytes = 64 }, nil)
	ts.addUser(t, "alice", "secret-pw", domain.PermissionUploader)
	cookie := ts.login(t, "alice", "secret-pw")

	body, ct := multipartBody(t, uploadFile{name: "big.epub", data: bytes.Repeat([]byte("x"), 100)})
	rec := ts.do(t, http.MethodPost, "/api/upload", body, cookie, map[string]string{"Content-Type": ct})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestProgressEndpoints(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.addUser(t, "alice", "secret-pw", domain.PermissionReader)
	cookie := ts.login(t, "alice", "secret-pw")
	if err := ts.store.SaveBook(t.Context(), domain.Book{ID: "b1", Title: "First"}); err != nil {
		t.Fatalf("save book: %v", err)
	}

	rec := ts.do(t, http.MethodGet, "/api/books/b1/progress", nil, cookie, nil)
	if p := decodeBody[progressResponse](t, rec); p.Progress != 0 || p.ProgressStr != "" {
		t.Fatalf("initial progress = %+v", p)
	}

	rec = ts.do(t, http.MethodPut, "/api/books/b1/progress", strings.NewReader(`{"progress":0.4,"progressStr":"epubcfi(/6/2)"}`), cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d body=%s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodGet, "/api/books/b1/progress", nil, cookie, nil)
	if p := decodeBody[progressResponse](t, rec); p.Progress != 0.4 || p.ProgressStr != "epubcfi(/6/2)" {
		t.Fatalf("stored progress = %+v", p)
	}

	rec = ts.do(t, http.MethodGet, "/api/progress", nil, cookie, nil)
	list := decodeBody[[]domain.Progress](t, rec)
	if len(list) != 1 || list[0].BookID != "b1" || list[0].BookTitle != "First" {
		t.Fatalf("list = %s", rec.Body.String())
	}

	cases := []struct {
		body string
		want int
	}{
		{`{"progress":-1,"progressStr":""}`, http.StatusBadRequest},
		{`{"progressStr":"x"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := ts.do(t, http.MethodPut, "/api/books/b1/progress", strings.NewReader(tc.body), cookie, nil)
		if rec.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.body, rec.Code, tc.want)
		}
	}
	rec = ts.do(t, http.MethodPut, "/api/books/missing/progress", strings.NewReader(`{"progress":1}`), cookie, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing book status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/api/books/b1/other", nil, cookie, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown sub-resource status = %d", rec.Code)
	}
}

func TestCollectionEndpoints(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.addUser(t, "alice", "secret-pw", domain.PermissionReader)
	cookie := ts.login(t, "alice", "secret-pw")
	for _, b := range []domain.Book{{ID: "b1", Title: "First"}, {ID: "b2", Title: "Second"}} {
		if err := ts.store.SaveBook(t.Context(), b); err != nil {
			t.Fatalf("save book: %v", err)
		}
	}

	rec := ts.do(t, http.MethodPost, "/api/collections", strings.NewReader(`{"name":"Sci-Fi","bookIds":["b1","b2"]}`), cookie, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body.String())
	}
	created := decodeBody[struct {
		Success    bool              `json:"success"`
		Collection domain.Collection `json:"collection"`
	}](t, rec)
	if !created.Success || len(created.Collection.Books) != 2 {
		t.Fatalf("created = %+v", created)
	}

	rec = ts.do(t, http.MethodGet, "/api/collections/"+created.Collection.ID, nil, cookie, nil)
	got := decodeBody[domain.Collection](t, rec)
	if got.Name != "Sci-Fi" || len(got.Books) != 2 || got.Books[1].Title != "Second" {
		t.Fatalf("got = %+v", got)
	}

	rec = ts.do(t, http.MethodGet, "/api/collections", nil, cookie, nil)
	listed := decodeBody[struct {
		Success     bool                `json:"success"`
		Collections []domain.Collection `json:"collections"`
	}](t, rec)
	if !listed.Success || len(listed.Collections) != 1 {
		t.Fatalf("listed = %+v", listed)
	}

	rec = ts.do(t, http.MethodGet, "/api/collections/missing", nil, cookie, nil)
	if resp := decodeBody[errorResponse](t, rec); rec.Code != http.StatusNotFound || resp.Code != "COLLECTION_NOT_FOUND" {
		t.Fatalf("missing = %d %+v", rec.Code, resp)
	}
	rec = ts.do(t, http.MethodPost, "/api/collections", strings.NewReader(`{"name":"Bad","bookIds":["nope"]}`), cookie, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown book status = %d", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	ol := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"title":"Dune"}`))
	}))
	defer ol.Close()
	ts := newTestServer(t, func(c *app.Config) {
		c.OpenLibraryURL = ol.URL
		c.HTTPClient = ol.Client()
	}, nil)
	ts.addUser(t, "alice", "secret-pw", domain.PermissionReader)
	cookie := ts.login(t, "alice", "secret-pw")

	rec := ts.do(t, http.MethodGet, "/api/search/OL893415W", nil, cookie, nil)
	if res := decodeBody[app.SearchResult](t, rec); !res.Success || res.Title != "Dune" {
		t.Fatalf("search = %s", rec.Body.String())
	}
	rec = ts.do(t, http.MethodGet, "/api/search/0441172717", nil, cookie, nil)
	if res := decodeBody[app.SearchResult](t, rec); res.Success || res.Message != "Unsupported ID type!" {
		t.Fatalf("isbn search = %s", rec.Body.String())
	}
	rec = ts.do(t, http.MethodGet, "/api/search/short", nil, cookie, nil)
	if resp := decodeBody[errorResponse](t, rec); rec.Code != http.StatusBadRequest || resp.Code != "SEARCH_INVALID_ID" {
		t.Fatalf("short id = %d %+v", rec.Code, resp)
	}
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.addUser(t, "admin", "admin-pw", domain.PermissionAdmin)
	ts.addUser(t, "reader", "reader-pw", domain.PermissionReader)
	adminCookie := ts.login(t, "admin", "admin-pw")
	readerCookie := ts.login(t, "reader", "reader-pw")

	rec := ts.do(t, http.MethodGet, "/api/admin/users", nil, readerCookie, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("reader admin status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/admin/users", strings.NewReader(`{"username":"newbie","permission":1,"password":"welcome1"}`), adminCookie, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body.String())
	}
	if u := decodeBody[app.AdminUser](t, rec); u.Status != domain.StatusActive || u.PermissionLevel != 1 {
		t.Fatalf("created = %+v", u)
	}
	ts.login(t, "newbie", "welcome1")

	rec = ts.do(t, http.MethodPost, "/api/admin/users", strings.NewReader(`{"username":"newbie","permission":0}`), adminCookie, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/api/admin/users", strings.NewReader(`{"username":"boss","permission":3}`), adminCookie, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("owner permission status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/admin/users", nil, adminCookie, nil)
	if users := decodeBody[[]app.AdminUser](t, rec); len(users) != 3 {
		t.Fatalf("users = %s", rec.Body.String())
	}

	rec = ts.do(t, http.MethodDelete, "/api/admin/users/reader-id", nil, adminCookie, nil)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("delete status = %d", rec.Code)
	}
}
