package service

import (
	"sort"
	"sync"
)

// Store is the registry of live sessions keyed by instance id.
type Store interface {
	Get(instanceID string) (*Supervisor, bool)
	// Put registers s unless the id is taken, in which case the existing
	// supervisor is returned with inserted=false.
	Put(s *Supervisor) (actual *Supervisor, inserted bool)
	Remove(instanceID string) (*Supervisor, bool)
	List() []*Supervisor
}

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Supervisor
}

func NewMemoryStore() Store {
	return &memoryStore{sessions: make(map[string]*Supervisor)}
}

func (s *memoryStore) Get(instanceID string) (*Supervisor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sup, ok := s.sessions[instanceID]
	return sup, ok
}

func (s *memoryStore) Put(sup *Supervisor) (*Supervisor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sup.ID()]; ok {
		return existing, false
	}
	s.sessions[sup.ID()] = sup
	return sup, true
}

func (s *memoryStore) Remove(instanceID string) (*Supervisor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sup, ok := s.sessions[instanceID]
	if ok {
		delete(s.sessions, instanceID)
	}
	return sup, ok
}

// List returns supervisors ordered by creation time, then id.
func (s *memoryStore) List() []*Supervisor {
	s.mu.RLock()
	result := make([]*Supervisor, 0, len(s.sessions))
	for _, sup := range s.sessions {
		result = append(result, sup)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].Snapshot(), result[j].Snapshot()
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.InstanceID < b.InstanceID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return result
}
