package app

import (
	"context"
	"fmt"
	"math"

	"pocketbook/pkg/domain"
)

// GetProgress returns the user's position in a book; zero values when the
// book has not been opened yet.
func (a *App) GetProgress(ctx context.Context, userID, bookID string) (domain.Progress, error) {
	p, ok, err := a.store.GetProgress(ctx, userID, bookID)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("fetch progress: %w", err)
	}
	if !ok {
		return domain.Progress{UserID: userID, BookID: bookID}, nil
	}
	return p, nil
}

// UpdateProgress records the user's position in a book.
func (a *App) UpdateProgress(ctx context.Context, userID, bookID string, progress float64, progressStr string) (domain.Progress, error) {
	if progress < 0 || math.IsNaN(progress) || math.IsInf(progress, 0) {
		return domain.Progress{}, ErrInvalidProgress
	}
	book, ok, err := a.store.GetBook(ctx, bookID)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok || !book.VisibleTo(userID) {
		return domain.Progress{}, ErrBookNotFound
	}
	p := domain.Progress{
		UserID:      userID,
		BookID:      bookID,
		Progress:    progress,
		ProgressStr: progressStr,
		UpdatedAt:   a.now().UTC(),
	}
	if err := a.store.UpsertProgress(ctx, p); err != nil {
		return domain.Progress{}, fmt.Errorf("save progress: %w", err)
	}
	p.BookTitle = book.Title
	return p, nil
}

// ListProgress returns every position recorded by the user.
func (a *App) ListProgress(ctx context.Context, userID string) ([]domain.Progress, error) {
	entries, err := a.store.ListProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	if entries == nil {
		entries = []domain.Progress{}
	}
	return entries, nil
}
