package user

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-process Repository. Records are copied on the way
// in and out so callers can never alias stored state.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[int64]User
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[int64]User),
		nextID: 1,
	}
}

func (s *MemoryStore) List(_ context.Context, role string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		if role != "" && u.Role != role {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) Create(_ context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	if s.emailInUseLocked(u.Email, 0) {
		return User{}, ErrEmailTaken
	}

	now := time.Now().UTC()
	u.ID = s.nextID
	s.nextID++
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) Update(_ context.Context, id int64, p Patch) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}

	if p.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*p.Email))
		if s.emailInUseLocked(email, id) {
			return User{}, ErrEmailTaken
		}
	}

	p.apply(&u)
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return u, nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// emailInUseLocked reports whether email belongs to a user other than self.
// Caller holds the write lock.
func (s *MemoryStore) emailInUseLocked(email string, self int64) bool {
	if email == "" {
		return false
	}
	for id, u := range s.users {
		if id != self && u.Email == email {
			return true
		}
	}
	return false
}
