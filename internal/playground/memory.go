package playground

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.Mutex
	projects []Project
	stamper
}

type MemoryOption func(*MemoryStore)

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMemoryIDs(newID func() string) MemoryOption {
	return func(s *MemoryStore) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{stamper: defaultStamper()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) List(_ context.Context) ([]Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.projects), nil
}

func (s *MemoryStore) Save(_ context.Context, p Project) (Project, error) {
	p = s.stamp(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = upsert(s.projects, p)
	return p, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = remove(s.projects, id)
	return nil
}
