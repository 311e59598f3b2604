package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

// MemoryStore is an in-process Store for development and tests
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[int64]*User
	nextID int64
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[int64]*User),
		nextID: 1,
		now:    time.Now,
	}
}

// Create registers a user, rejecting duplicate emails
func (s *MemoryStore) Create(ctx context.Context, req CreateUserRequest) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findByEmail(req.Email) != nil {
		return nil, apperrors.Conflictf("email %q is already registered", req.Email)
	}

	now := s.now().UTC()
	user := &User{
		ID:        s.nextID,
		Username:  req.Username,
		Email:     normalizeEmail(req.Email),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nextID++
	s.users[user.ID] = user
	return copyUser(user), nil
}

// Get returns the user or nil when absent
func (s *MemoryStore) Get(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.users[id]), nil
}

// GetByEmail looks a user up by normalized email
func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.findByEmail(email)), nil
}

// GetMany returns the users that exist among ids
func (s *MemoryStore) GetMany(ctx context.Context, ids []int64) (map[int64]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[int64]*User, len(ids))
	for _, id := range ids {
		if user, ok := s.users[id]; ok {
			found[id] = copyUser(user)
		}
	}
	return found, nil
}

// Update applies a partial update and returns nil for unknown users
func (s *MemoryStore) Update(ctx context.Context, id int64, req UpdateUserRequest) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	if req.Email != nil {
		if other := s.findByEmail(*req.Email); other != nil && other.ID != id {
			return nil, apperrors.Conflictf("email %q is already registered", *req.Email)
		}
		user.Email = normalizeEmail(*req.Email)
	}
	if req.Username != nil {
		user.Username = *req.Username
	}
	user.UpdatedAt = s.now().UTC()
	return copyUser(user), nil
}

// Delete removes a user and reports whether it existed
func (s *MemoryStore) Delete(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return false, nil
	}
	delete(s.users, id)
	return true, nil
}

// List returns a page of users ordered by id
func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*User, error) {
	opts = opts.normalized()

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*User, 0, len(s.users))
	for _, user := range s.users {
		all = append(all, user)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	list := []*User{}
	for i := opts.Offset; i < len(all) && len(list) < opts.Limit; i++ {
		list = append(list, copyUser(all[i]))
	}
	return list, nil
}

func (s *MemoryStore) findByEmail(email string) *User {
	email = normalizeEmail(email)
	for _, user := range s.users {
		if user.Email == email {
			return user
		}
	}
	return nil
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
