package duel

import (
	"sync"

	"github.com/google/uuid"
)

// Store tracks all live duels in memory.
type Store struct {
	mu    sync.Mutex
	duels map[uuid.UUID]*Duel
}

func NewStore() *Store {
	return &Store{
		duels: make(map[uuid.UUID]*Duel),
	}
}

func (s *Store) Add(d *Duel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duels[d.ID] = d
}

func (s *Store) Get(id uuid.UUID) (*Duel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, exists := s.duels[id]
	return d, exists
}

func (s *Store) Delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.duels, id)
}

// All returns the current duel set; used by the deadline sweep.
func (s *Store) All() []*Duel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Duel, 0, len(s.duels))
	for _, d := range s.duels {
		out = append(out, d)
	}
	return out
}
