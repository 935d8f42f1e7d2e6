package app

import (
	"context"
	"fmt"
	"strings"

	"pocketbook/internal/util"
	"pocketbook/pkg/domain"
)

func (a *App) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	cols, err := a.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	if cols == nil {
		cols = []domain.Collection{}
	}
	return cols, nil
}

func (a *App) GetCollection(ctx context.Context, id string) (domain.Collection, error) {
	c, ok, err := a.store.GetCollection(ctx, id)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("fetch collection: %w", err)
	}
	if !ok {
		return domain.Collection{}, ErrCollectionNotFound
	}
	return c, nil
}

// CreateCollection groups existing books under a name. Every id must name
// an existing book; duplicates are dropped.
func (a *App) CreateCollection(ctx context.Context, name string, bookIDs []string) (domain.Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Collection{}, fmt.Errorf("%w: collection name required", ErrInvalidInput)
	}
	refs := make([]domain.BookRef, 0, len(bookIDs))
	seen := make(map[string]bool, len(bookIDs))
	for _, id := range bookIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		b, ok, err := a.store.GetBook(ctx, id)
		if err != nil {
			return domain.Collection{}, fmt.Errorf("fetch book: %w", err)
		}
		if !ok {
			return domain.Collection{}, fmt.Errorf("%w: %s", ErrBookNotFound, id)
		}
		refs = append(refs, domain.BookRef{ID: b.ID, Title: b.Title})
	}
	c := domain.Collection{
		ID:        util.NewID(),
		Name:      name,
		Books:     refs,
		CreatedAt: a.now().UTC(),
	}
	if err := a.store.CreateCollection(ctx, c); err != nil {
		return domain.Collection{}, fmt.Errorf("save collection: %w", err)
	}
	return c, nil
}
