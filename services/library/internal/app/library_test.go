package app

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pocketbook/pkg/domain"
)

func seedBooks(t *testing.T, env *testEnv, books ...domain.Book) {
	t.Helper()
	for _, b := range books {
		if err := env.store.SaveBook(context.Background(), b); err != nil {
			t.Fatalf("save book: %v", err)
		}
	}
}

func TestProgress(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	seedBooks(t, env, domain.Book{ID: "b1", Title: "First"}, domain.Book{ID: "b2", Title: "Second"})

	p, err := env.app.GetProgress(ctx, "u1", "b1")
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if p.Progress != 0 || p.ProgressStr != "" {
		t.Fatalf("empty progress = %+v", p)
	}

	if _, err := env.app.UpdateProgress(ctx, "u1", "b1", 0.25, "epubcfi(/6/4)"); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	env.clock.t = env.clock.t.Add(time.Minute)
	updated, err := env.app.UpdateProgress(ctx, "u1", "b2", 0.5, "epubcfi(/6/8)")
	if err != nil {
		t.Fatalf("update progress: %v", err)
	}
	if updated.Progress != 0.5 || updated.BookTitle != "Second" {
		t.Fatalf("updated = %+v", updated)
	}

	p, _ = env.app.GetProgress(ctx, "u1", "b1")
	if p.Progress != 0.25 || p.ProgressStr != "epubcfi(/6/4)" {
		t.Fatalf("stored progress = %+v", p)
	}

	list, err := env.app.ListProgress(ctx, "u1")
	if err != nil {
		t.Fatalf("list progress: %v", err)
	}
	if len(list) != 2 || list[0].BookID != "b2" || list[0].BookTitle != "Second" {
		t.Fatalf("list = %+v", list)
	}
	other, _ := env.app.ListProgress(ctx, "u2")
	if other == nil || len(other) != 0 {
		t.Fatalf("other user list = %#v, want empty slice", other)
	}
}

func TestUpdateProgressRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	seedBooks(t, env, domain.Book{ID: "b1"}, domain.Book{ID: "secret", AuthorizedUsers: []string{"u2"}})

	for _, v := range []float64{-1, math.NaN(), math.Inf(1)} {
		if _, err := env.app.UpdateProgress(ctx, "u1", "b1", v, ""); !errors.Is(err, ErrInvalidProgress) {
			t.Fatalf("progress %v: err = %v, want ErrInvalidProgress", v, err)
		}
	}
	if _, err := env.app.UpdateProgress(ctx, "u1", "missing", 1, ""); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("err = %v, want ErrBookNotFound", err)
	}
	if _, err := env.app.UpdateProgress(ctx, "u1", "secret", 1, ""); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("hidden book err = %v, want ErrBookNotFound", err)
	}
}

func TestCollections(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	seedBooks(t, env, domain.Book{ID: "b1", Title: "First"}, domain.Book{ID: "b2", Title: "Second"})

	empty, err := env.app.ListCollections(ctx)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("initial collections = %#v, err = %v", empty, err)
	}

	c, err := env.app.CreateCollection(ctx, "  Favourites ", []string{"b2", "b1", "b2"})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	if c.Name != "Favourites" || len(c.Books) != 2 || c.Books[0].Title != "Second" {
		t.Fatalf("created = %+v", c)
	}

	got, err := env.app.GetCollection(ctx, c.ID)
	if err != nil {
		t.Fatalf("get collection: %v", err)
	}
	if len(got.Books) != 2 {
		t.Fatalf("got = %+v", got)
	}
	all, _ := env.app.ListCollections(ctx)
	if len(all) != 1 || all[0].ID != c.ID {
		t.Fatalf("list = %+v", all)
	}

	if _, err := env.app.GetCollection(ctx, "missing"); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("err = %v, want ErrCollectionNotFound", err)
	}
	if _, err := env.app.CreateCollection(ctx, " ", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := env.app.CreateCollection(ctx, "Broken", []string{"b1", "nope"}); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("err = %v, want ErrBookNotFound", err)
	}
}

func TestAdminUsers(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	admin := env.addUser(t, "admin", "admin-pw", domain.PermissionAdmin)
	reader := env.addUser(t, "reader", "reader-pw", domain.PermissionReader)

	if _, err := env.app.ListUsers(ctx, reader); !errors.Is(err, ErrForbidden) {
		t.Fatalf("reader list err = %v, want ErrForbidden", err)
	}

	pw := "welcome1"
	created, err := env.app.CreateUser(ctx, admin, CreateUserInput{Username: "newbie", Permission: 1, Password: &pw})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.Status != domain.StatusActive || created.PermissionLevel != 1 {
		t.Fatalf("created = %+v", created)
	}
	if _, err := env.app.Login(ctx, "newbie", "welcome1"); err != nil {
		t.Fatalf("new user cannot log in with their password: %v", err)
	}
	if _, err := env.app.Login(ctx, "newbie", "newbie"); err == nil {
		t.Fatalf("username accepted as password")
	}

	pending, err := env.app.CreateUser(ctx, admin, CreateUserInput{Username: "later", Permission: 0})
	if err != nil {
		t.Fatalf("create pending user: %v", err)
	}
	if pending.Status != domain.StatusPending {
		t.Fatalf("status = %q, want pending", pending.Status)
	}

	users, err := env.app.ListUsers(ctx, admin)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 4 {
		t.Fatalf("users = %d, want 4", len(users))
	}

	cases := []struct {
		name string
		in   CreateUserInput
		want error
	}{
		{"duplicate", CreateUserInput{Username: "newbie"}, ErrUsernameTaken},
		{"short username", CreateUserInput{Username: "abc"}, ErrInvalidInput},
		{"owner permission", CreateUserInput{Username: "boss1", Permission: 3}, ErrInvalidInput},
		{"negative permission", CreateUserInput{Username: "boss2", Permission: -1}, ErrInvalidInput},
	}
	for _, tc := range cases {
		if _, err := env.app.CreateUser(ctx, admin, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
	if _, err := env.app.CreateUser(ctx, reader, CreateUserInput{Username: "sneaky"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("reader create err = %v, want ErrForbidden", err)
	}

	if err := env.app.DeleteUser(ctx, admin, reader.ID); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("delete err = %v, want ErrNotImplemented", err)
	}
}

func TestSearchID(t *testing.T) {
	var gotUA, gotPath string
	ol := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotPath = r.URL.Path
		switch r.URL.Path {
		case "/works/OL1168083W.json":
			_, _ = w.Write([]byte(`{"title":"The Lord of the Rings","key":"/works/OL1168083W"}`))
		case "/works/OL999999W.json":
			_, _ = w.Write([]byte(`{"key":"/works/OL999999W"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ol.Close()

	env := newTestEnv(t, func(c *Config) {
		c.OpenLibraryURL = ol.URL + "/"
		c.HTTPClient = ol.Client()
	})
	ctx := context.Background()

	res, err := env.app.SearchID(ctx, "OL1168083W")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !res.Success || res.Title != "The Lord of the Rings" {
		t.Fatalf("result = %+v", res)
	}
	if gotUA != "PocketBook/1.0 (geektraindev@gmail.com)" || gotPath != "/works/OL1168083W.json" {
		t.Fatalf("request UA=%q path=%q", gotUA, gotPath)
	}

	cases := []struct {
		id      string
		message string
	}{
		{"OL00000W", ""},
		{"OL1234567W", "HTTP error: 404 Not Found"},
		{"OL999999W", "Invalid response format from OpenLibrary API"},
		{"0123456789", "Unsupported ID type!"},
		{"9780123456789", "Unsupported ID type!"},
		{"ABCDEFGHIJK", "Invalid ID!"},
	}
	for _, tc := range cases {
		res, err := env.app.SearchID(ctx, tc.id)
		if tc.message == "" {
			if !errors.Is(err, ErrInvalidSearchID) {
				t.Fatalf("%s: err = %v, want ErrInvalidSearchID", tc.id, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.id, err)
		}
		if res.Success || res.Message != tc.message {
			t.Fatalf("%s: result = %+v, want message %q", tc.id, res, tc.message)
		}
	}
}
