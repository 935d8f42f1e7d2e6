package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"pocketbook/internal/util"
	"pocketbook/pkg/domain"
	"pocketbook/pkg/epub"
	"pocketbook/pkg/queue"
	"pocketbook/pkg/storage"
)

const (
	epubContentType = "application/epub+zip"
	unknownTitle    = "Unknown Title"
)

// BookListing is one entry of the library grid. Cover is a data URI or "".
type BookListing struct {
	UUID  string `json:"uuid"`
	Title string `json:"title"`
	Cover string `json:"cover"`
}

// ListBooks returns the books visible to userID with their covers. Covers
// are extracted concurrently; a book whose cover cannot be produced is
// listed with an empty cover.
func (a *App) ListBooks(ctx context.Context, userID string) ([]BookListing, error) {
	books, err := a.visibleBooks(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]BookListing, len(books))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.coverConcurrency)
	for i, b := range books {
		out[i] = BookListing{UUID: b.ID, Title: b.Title}
		g.Go(func() error {
			out[i].Cover = a.coverFor(gctx, b).DataURI()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *App) visibleBooks(ctx context.Context, userID string) ([]domain.Book, error) {
	all, err := a.store.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	visible := all[:0]
	for _, b := range all {
		if b.VisibleTo(userID) {
			visible = append(visible, b)
		}
	}
	return visible, nil
}

// coverFor consults the cache, falling back to extracting from the stored
// file. Cache failures are logged and otherwise ignored.
func (a *App) coverFor(ctx context.Context, b domain.Book) epub.Cover {
	logger := util.LoggerFromContext(ctx)
	if a.covers != nil {
		c, ok, err := a.covers.Get(ctx, b.ID)
		if err != nil {
			logger.Warn("cover cache get failed", "book_id", b.ID, "err", err)
		} else if ok {
			return c
		}
	}
	data, err := a.readBook(ctx, b)
	if err != nil {
		logger.Warn("read book for cover failed", "book_id", b.ID, "err", err)
		return epub.Cover{}
	}
	cover := epub.ExtractCover(data)
	if a.covers != nil {
		if err := a.covers.Set(ctx, b.ID, cover); err != nil {
			logger.Warn("cover cache set failed", "book_id", b.ID, "err", err)
		}
	}
	return cover
}

// WarmCover extracts and caches the cover of bookID. Books deleted since
// they were queued are skipped.
func (a *App) WarmCover(ctx context.Context, bookID string) error {
	if a.covers == nil {
		return nil
	}
	b, ok, err := a.store.GetBook(ctx, bookID)
	if err != nil {
		return fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return nil
	}
	data, err := a.readBook(ctx, b)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read book: %w", err)
	}
	return a.covers.Set(ctx, b.ID, epub.ExtractCover(data))
}

// RunCoverWarmer consumes the cover queue until ctx is done. Without a
// queue it returns immediately.
func (a *App) RunCoverWarmer(ctx context.Context) error {
	if a.warmer == nil || a.covers == nil {
		return nil
	}
	return a.warmer.Run(ctx, a.coverConcurrency, func(ctx context.Context, job queue.Job) error {
		return a.WarmCover(ctx, job.BookID)
	})
}

func (a *App) readBook(ctx context.Context, b domain.Book) ([]byte, error) {
	rc, _, err := a.objects.Get(ctx, storageKeyFor(b))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, a.maxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > a.maxUploadBytes {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

// UploadedBook describes a stored upload.
type UploadedBook struct {
	UUID             string `json:"uuid"`
	Title            string `json:"title"`
	OriginalFilename string `json:"originalFilename"`
	Size             int64  `json:"size"`
}

// IsEPub reports whether an upload is accepted as an EPUB, either by
// extension or by declared content type.
func IsEPub(filename, contentType string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".epub") || contentType == epubContentType
}

// UploadBook stores an EPUB and records it. The title comes from the
// package metadata, falling back to "Unknown Title".
func (a *App) UploadBook(ctx context.Context, owner domain.User, filename, contentType string, r io.Reader) (UploadedBook, error) {
	if !IsEPub(filename, contentType) {
		return UploadedBook{}, ErrNotEPub
	}
	data, err := io.ReadAll(io.LimitReader(r, a.maxUploadBytes+1))
	if err != nil {
		return UploadedBook{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > a.maxUploadBytes {
		return UploadedBook{}, ErrFileTooLarge
	}

	md, err := epub.ReadMetadata(data)
	if err != nil {
		util.LoggerFromContext(ctx).Info("epub metadata unreadable", "filename", filename, "err", err)
	}
	title := md.Title
	if title == "" {
		title = unknownTitle
	}
	if filename == "" {
		filename = "unknown.epub"
	}

	now := a.now().UTC()
	book := domain.Book{
		ID:               util.NewID(),
		Title:            title,
		Creators:         md.Creators,
		Language:         md.Language,
		Identifier:       md.Identifier,
		OriginalFilename: filepath.Base(filename),
		SizeBytes:        int64(len(data)),
		UploadedBy:       owner.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	book.StorageKey = storageKeyFor(book)
	if err := a.objects.Put(ctx, book.StorageKey, bytes.NewReader(data), book.SizeBytes, epubContentType); err != nil {
		return UploadedBook{}, fmt.Errorf("save file: %w", err)
	}
	if err := a.store.SaveBook(ctx, book); err != nil {
		_ = a.objects.Delete(ctx, book.StorageKey)
		return UploadedBook{}, fmt.Errorf("save book: %w", err)
	}
	if a.warmer != nil && a.covers != nil {
		if err := a.warmer.Enqueue(ctx, book.ID); err != nil {
			util.LoggerFromContext(ctx).Warn("enqueue cover warm-up failed", "book_id", book.ID, "err", err)
		}
	}
	return UploadedBook{
		UUID:             book.ID,
		Title:            book.Title,
		OriginalFilename: book.OriginalFilename,
		Size:             book.SizeBytes,
	}, nil
}

// DiscardBooks removes freshly uploaded books along with their files and
// cached covers. It keeps going past failures and returns them joined.
func (a *App) DiscardBooks(ctx context.Context, ids ...string) error {
	var errs []error
	for _, id := range ids {
		b, ok, err := a.store.GetBook(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("fetch book %s: %w", id, err))
			continue
		}
		if !ok {
			continue
		}
		if err := a.store.DeleteBook(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete book %s: %w", id, err))
			continue
		}
		if err := a.objects.Delete(ctx, storageKeyFor(b)); err != nil {
			errs = append(errs, fmt.Errorf("delete file %s: %w", id, err))
		}
		if a.covers != nil {
			if err := a.covers.Invalidate(ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("invalidate cover %s: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}

// BookContent is an open handle on a stored EPUB.
type BookContent struct {
	Book domain.Book
	Body io.ReadCloser
	Size int64
}

// OpenBook opens the EPUB for id. A trailing ".epub" on id is ignored.
// Books hidden from userID are reported as not found.
func (a *App) OpenBook(ctx context.Context, userID, id string) (BookContent, error) {
	id = strings.TrimSuffix(strings.TrimSpace(id), ".epub")
	if id == "" {
		return BookContent{}, ErrBookNotFound
	}
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return BookContent{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok || !book.VisibleTo(userID) {
		return BookContent{}, ErrBookNotFound
	}
	rc, size, err := a.objects.Get(ctx, storageKeyFor(book))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return BookContent{}, ErrBookNotFound
	}
	if err != nil {
		return BookContent{}, fmt.Errorf("open book file: %w", err)
	}
	return BookContent{Book: book, Body: rc, Size: size}, nil
}

func storageKeyFor(b domain.Book) string {
	if b.StorageKey != "" {
		return b.StorageKey
	}
	return "books/" + b.ID + ".epub"
}
