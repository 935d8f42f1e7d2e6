package store

import (
	"context"
	"sort"
	"sync"

	"pocketbook/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and single-node
// runs without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]domain.User // key: user ID
	usernames   map[string]string      // username -> user ID
	books       map[string]domain.Book
	bookOrder   []string
	collections map[string]domain.Collection
	collOrder   []string
	progress    map[progressKey]domain.Progress
}

type progressKey struct {
	userID string
	bookID string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]domain.User),
		usernames:   make(map[string]string),
		books:       make(map[string]domain.Book),
		collections: make(map[string]domain.Collection),
		progress:    make(map[progressKey]domain.Progress),
	}
}

// CreateUser inserts a new user.
func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.usernames[u.Username]; taken {
		return ErrUsernameTaken
	}
	m.users[u.ID] = u
	m.usernames[u.Username] = u.ID
	return nil
}

// SaveUser inserts or replaces a user.
func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, taken := m.usernames[u.Username]; taken && owner != u.ID {
		return ErrUsernameTaken
	}
	if prev, ok := m.users[u.ID]; ok && prev.Username != u.Username {
		delete(m.usernames, prev.Username)
	}
	m.users[u.ID] = u
	m.usernames[u.Username] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usernames[username]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// ListUsers returns users ordered by creation time.
func (m *MemoryStore) ListUsers(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].Username < res[j].Username
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// SaveBook stores or replaces a book record and tracks insertion order.
func (m *MemoryStore) SaveBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.bookOrder = append(m.bookOrder, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

func (m *MemoryStore) GetBook(_ context.Context, id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

func (m *MemoryStore) DeleteBook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return nil
	}
	delete(m.books, id)
	for i, bookID := range m.bookOrder {
		if bookID == id {
			m.bookOrder = append(m.bookOrder[:i], m.bookOrder[i+1:]...)
			break
		}
	}
	for key := range m.progress {
		if key.bookID == id {
			delete(m.progress, key)
		}
	}
	for cid, c := range m.collections {
		refs := c.Books[:0]
		for _, ref := range c.Books {
			if ref.ID != id {
				refs = append(refs, ref)
			}
		}
		c.Books = refs
		m.collections[cid] = c
	}
	return nil
}

// ListBooks returns books in insertion order.
func (m *MemoryStore) ListBooks(_ context.Context) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.bookOrder))
	for _, id := range m.bookOrder {
		res = append(res, m.books[id])
	}
	return res, nil
}

// CreateCollection stores a collection. Only book IDs are kept; titles are
// resolved on read.
func (m *MemoryStore) CreateCollection(_ context.Context, c domain.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := make([]domain.BookRef, 0, len(c.Books))
	seen := make(map[string]bool, len(c.Books))
	for _, ref := range c.Books {
		if seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true
		refs = append(refs, domain.BookRef{ID: ref.ID})
	}
	c.Books = refs
	if _, exists := m.collections[c.ID]; !exists {
		m.collOrder = append(m.collOrder, c.ID)
	}
	m.collections[c.ID] = c
	return nil
}

func (m *MemoryStore) GetCollection(_ context.Context, id string) (domain.Collection, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[id]
	if !ok {
		return domain.Collection{}, false, nil
	}
	return m.hydrate(c), true, nil
}

func (m *MemoryStore) ListCollections(_ context.Context) ([]domain.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Collection, 0, len(m.collOrder))
	for _, id := range m.collOrder {
		res = append(res, m.hydrate(m.collections[id]))
	}
	return res, nil
}

// hydrate fills in current book titles. Callers hold the read lock.
func (m *MemoryStore) hydrate(c domain.Collection) domain.Collection {
	books := make([]domain.BookRef, 0, len(c.Books))
	for _, ref := range c.Books {
		if b, ok := m.books[ref.ID]; ok {
			books = append(books, domain.BookRef{ID: b.ID, Title: b.Title})
		}
	}
	c.Books = books
	return c
}

func (m *MemoryStore) GetProgress(_ context.Context, userID, bookID string) (domain.Progress, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.progress[progressKey{userID, bookID}]
	return p, ok, nil
}

func (m *MemoryStore) UpsertProgress(_ context.Context, p domain.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.BookTitle = ""
	m.progress[progressKey{p.UserID, p.BookID}] = p
	return nil
}

// ListProgress returns a user's positions, most recent first, skipping
// entries whose book no longer exists.
func (m *MemoryStore) ListProgress(_ context.Context, userID string) ([]domain.Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Progress
	for key, p := range m.progress {
		if key.userID != userID {
			continue
		}
		b, ok := m.books[key.bookID]
		if !ok {
			continue
		}
		p.BookTitle = b.Title
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].UpdatedAt.Equal(res[j].UpdatedAt) {
			return res[i].BookID < res[j].BookID
		}
		return res[i].UpdatedAt.After(res[j].UpdatedAt)
	})
	return res, nil
}
