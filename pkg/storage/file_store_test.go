package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func TestFileStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	payload := []byte("epub bytes")
	if err := s.Put(ctx, "books/b1.epub", bytes.NewReader(payload), int64(len(payload)), "application/epub+zip"); err != nil {
		t.Fatalf("put: %v", err)
	}

	rc, size, err := s.Get(ctx, "books/b1.epub")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if size != int64(len(payload)) || !bytes.Equal(got, payload) {
		t.Fatalf("unexpected object size=%d body=%q", size, got)
	}

	if err := s.Delete(ctx, "books/b1.epub"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := s.Get(ctx, "books/b1.epub"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "books/b1.epub"); err != nil {
		t.Fatalf("deleting a missing object should succeed: %v", err)
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	for _, key := range []string{"", "../x", "/etc/passwd", "books/../../x"} {
		if err := s.Put(context.Background(), key, bytes.NewReader(nil), 0, ""); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}

func TestFileStoreShortWrite(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	err = s.Put(context.Background(), "books/short.epub", bytes.NewReader([]byte("abc")), 10, "")
	if err == nil {
		t.Fatalf("expected short write error")
	}
	if _, _, err := s.Get(context.Background(), "books/short.epub"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("partial upload must not be visible, got %v", err)
	}
}
