package store

import (
	"context"
	"errors"

	"pocketbook/pkg/domain"
)

// ErrUsernameTaken is returned when a new user collides with an existing username.
var ErrUsernameTaken = errors.New("username already exists")

// Store defines persistence operations for users, books, collections and
// reading progress.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	SaveUser(ctx context.Context, u domain.User) error
	GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)

	// books
	SaveBook(ctx context.Context, b domain.Book) error
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	ListBooks(ctx context.Context) ([]domain.Book, error)
	// DeleteBook removes the book along with its progress entries and
	// collection links. Deleting a missing book is not an error.
	DeleteBook(ctx context.Context, id string) error

	// collections
	CreateCollection(ctx context.Context, c domain.Collection) error
	GetCollection(ctx context.Context, id string) (domain.Collection, bool, error)
	ListCollections(ctx context.Context) ([]domain.Collection, error)

	// progress
	GetProgress(ctx context.Context, userID, bookID string) (domain.Progress, bool, error)
	UpsertProgress(ctx context.Context, p domain.Progress) error
	ListProgress(ctx context.Context, userID string) ([]domain.Progress, error)
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
