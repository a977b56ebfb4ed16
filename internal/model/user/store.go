package user

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// ErrNotFound is returned when no user is stored under the requested id.
var ErrNotFound = errors.New("user not found")

// Store exposes user persistence for HTTP handlers.
type Store interface {
	GetAll(ctx context.Context) ([]User, error)
	GetByID(ctx context.Context, id string) (User, error)
	Save(ctx context.Context, u User) (User, error)
	Update(ctx context.Context, u User) (User, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	Size(ctx context.Context) (int, error)
}

// MemoryStore implements Store with a map guarded by a RWMutex.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]User
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied users.
func NewMemoryStore(items []User) *MemoryStore {
	s := &MemoryStore{items: make(map[string]User, len(items))}
	for _, item := range items {
		s.items[item.ID] = item
	}
	return s
}

// GetAll returns every stored user ordered by id.
func (s *MemoryStore) GetAll(_ context.Context) ([]User, error) {
	s.mu.RLock()
	users := lo.Values(s.items)
	s.mu.RUnlock()

	sortByID(users)
	return users, nil
}

// GetByID looks up a user by identifier.
func (s *MemoryStore) GetByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.items[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// Save inserts or overwrites the record stored at u.ID.
func (s *MemoryStore) Save(_ context.Context, u User) (User, error) {
	s.mu.Lock()
	s.items[u.ID] = u
	s.mu.Unlock()
	return u, nil
}

// Update replaces an existing record. The store is left untouched when the id is unknown.
func (s *MemoryStore) Update(_ context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[u.ID]; !ok {
		return User{}, ErrNotFound
	}
	s.items[u.ID] = u
	return u, nil
}

// DeleteByID removes the record if present.
func (s *MemoryStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

// DeleteAll clears the store.
func (s *MemoryStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	clear(s.items)
	s.mu.Unlock()
	return nil
}

// Size reports the number of stored users.
func (s *MemoryStore) Size(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

func sortByID(users []User) {
	slices.SortFunc(users, func(a, b User) int {
		return cmp.Compare(a.ID, b.ID)
	})
}
