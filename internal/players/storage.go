// Package players binds numeric player identities to live connections.
package players

import (
	"sync"

	"tinysync/internal/broadcast"
)

type Store struct {
	mu    sync.Mutex
	conns map[int32]broadcast.Sender
}

func NewStore() *Store {
	return &Store{
		conns: make(map[int32]broadcast.Sender),
	}
}

// Bind records conn for id, overwriting any earlier binding.
func (s *Store) Bind(id int32, conn broadcast.Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id] = conn
}

func (s *Store) Get(id int32) (broadcast.Sender, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	return conn, ok
}

// Unbind removes every binding that still points at conn and returns the
// affected player ids. Bindings already replaced by a newer connection are
// left alone.
func (s *Store) Unbind(conn broadcast.Sender) []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int32
	for id, c := range s.conns {
		if c == conn {
			delete(s.conns, id)
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
