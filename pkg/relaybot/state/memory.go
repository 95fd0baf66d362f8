package state

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps contexts in process memory. It is the default backend.
type MemoryStore struct {
	mu       sync.Mutex
	contexts map[string]*Context
	branches map[string][]Branch
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contexts: make(map[string]*Context),
		branches: make(map[string][]Branch),
		now:      time.Now,
	}
}

// Get returns a copy of key's context, creating it if needed.
func (s *MemoryStore) Get(_ context.Context, key string) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getLocked(key)
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) getLocked(key string) *Context {
	c, ok := s.contexts[key]
	if !ok {
		now := s.now().UTC()
		c = &Context{Key: key, CreatedAt: now, UpdatedAt: now}
		s.contexts[key] = c
	}
	return c
}

// SetCurrentBranch updates the branch label for key.
func (s *MemoryStore) SetCurrentBranch(_ context.Context, key, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getLocked(key)
	c.CurrentBranch = branch
	c.UpdatedAt = s.now().UTC()
	return nil
}

// CreateBranch adds a branch to key's tree.
func (s *MemoryStore) CreateBranch(_ context.Context, key string, b Branch) (Branch, error) {
	if err := validateBranch(b); err != nil {
		return Branch{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.getLocked(key)

	existing := s.branches[key]
	parentFound := b.ParentID == ""
	maxOrder := 0
	for _, e := range existing {
		if e.ID == b.ID {
			return Branch{}, fmt.Errorf("%w: %q", ErrBranchExists, b.ID)
		}
		if e.ID == b.ParentID {
			parentFound = true
		}
		if e.ParentID == b.ParentID && e.SortOrder > maxOrder {
			maxOrder = e.SortOrder
		}
	}
	if !parentFound {
		return Branch{}, fmt.Errorf("%w: parent %q", ErrBranchNotFound, b.ParentID)
	}

	if b.Name == "" {
		b.Name = b.ID
	}
	b.SortOrder = maxOrder + 1
	b.CreatedAt = s.now().UTC()
	s.branches[key] = append(existing, b)
	return b, nil
}

// Branches lists key's branches.
func (s *MemoryStore) Branches(_ context.Context, key string) ([]Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Branch, len(s.branches[key]))
	copy(out, s.branches[key])
	sortBranches(out)
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
