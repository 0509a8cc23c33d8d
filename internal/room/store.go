package room

import (
	"log"
	"sync"
)

// Store is the room store abstraction: the single source of truth for
// live rooms while they exist. Injectable so handlers can run against a
// test double, and so a sharded implementation can slot in later.
type Store interface {
	// Get returns the room for a code, if live.
	Get(code string) (*RoomState, bool)
	// GetOrCreate returns the room for a code, creating it if absent.
	GetOrCreate(code string) *RoomState
	// Delete drops all in-memory state for a code.
	Delete(code string)
	// Len returns the number of live rooms.
	Len() int
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*RoomState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*RoomState),
	}
}

// Get returns the room for a code, if live.
func (s *MemoryStore) Get(code string) (*RoomState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[code]
	return st, ok
}

// GetOrCreate returns the room for a code, creating it if absent.
func (s *MemoryStore) GetOrCreate(code string) *RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.rooms[code]; ok {
		return st
	}

	st := newRoomState(code)
	s.rooms[code] = st
	log.Printf("[RoomStore] Created room: %s", code)

	return st
}

// Delete drops all in-memory state for a code.
func (s *MemoryStore) Delete(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[code]; ok {
		delete(s.rooms, code)
		log.Printf("[RoomStore] Removed room: %s", code)
	}
}

// Len returns the number of live rooms.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
