package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"rendezvous/signal/internal/types"
)

var (
	ErrNotFound    = errors.New("room not found")
	ErrUnavailable = errors.New("room store unavailable")
)

// Store is keyed durable storage for room records. Implementations copy
// records on the way in and out; callers own what they get back.
// Read-modify-write atomicity is the caller's concern.
type Store interface {
	Get(ctx context.Context, code string) (*types.Room, error)
	Save(ctx context.Context, room *types.Room) error
	// Delete reports whether a record was removed.
	Delete(ctx context.Context, code string) (bool, error)
	List(ctx context.Context) ([]*types.Room, error)
	Close() error
}

const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Open builds the backend named by driver. path is ignored for memory.
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFile, "":
		return OpenFile(path)
	case DriverSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

type Memory struct {
	mu    sync.RWMutex
	rooms map[string]*types.Room
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]*types.Room)}
}

func (m *Memory) Get(ctx context.Context, code string) (*types.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[code]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *Memory) Save(ctx context.Context, room *types.Room) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.Lock()
	m.rooms[room.Code] = room.Clone()
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[code]; !ok {
		return false, nil
	}
	delete(m.rooms, code)
	return true, nil
}

func (m *Memory) List(ctx context.Context) ([]*types.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.RLock()
	out := make([]*types.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r.Clone())
	}
	m.mu.RUnlock()
	sortByCreated(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }

func sortByCreated(rooms []*types.Room) {
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
		}
		return rooms[i].Code < rooms[j].Code
	})
}

// normalize fills the fields a decoded record may be missing.
func normalize(r *types.Room) *types.Room {
	if r.Participants == nil {
		r.Participants = make(map[string]*types.Participant)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	return r
}
