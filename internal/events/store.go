package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultPerRoom = 200

// Event is one membership change recorded against a room.
type Event struct {
	ID        string         `json:"id"`
	RoomCode  string         `json:"room_code"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Store keeps the most recent events per room in memory. Signaling
// payloads are never recorded.
type Store struct {
	mu      sync.RWMutex
	byRoom  map[string][]Event
	perRoom int
	now     func() time.Time
}

func NewStore(perRoom int) *Store {
	if perRoom <= 0 {
		perRoom = DefaultPerRoom
	}
	return &Store{byRoom: make(map[string][]Event), perRoom: perRoom, now: time.Now}
}

func (s *Store) Append(roomCode, typ string, payload map[string]any) Event {
	evt := Event{
		ID:        uuid.NewString(),
		RoomCode:  roomCode,
		Type:      typ,
		Timestamp: s.now().UTC(),
		Payload:   payload,
	}
	s.mu.Lock()
	list := append(s.byRoom[roomCode], evt)
	if len(list) > s.perRoom {
		list = append([]Event(nil), list[len(list)-s.perRoom:]...)
	}
	s.byRoom[roomCode] = list
	s.mu.Unlock()
	return evt
}

func (s *Store) List(roomCode string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// return a shallow copy to avoid external mutation
	src := s.byRoom[roomCode]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

// Forget drops the history of a room that no longer exists.
func (s *Store) Forget(roomCode string) {
	s.mu.Lock()
	delete(s.byRoom, roomCode)
	s.mu.Unlock()
}
