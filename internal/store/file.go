package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"rendezvous/signal/internal/types"
)

// File keeps every room in one JSON document, rewritten atomically on each
// mutation. Reads are served from the copy loaded at open.
type File struct {
	path string

	mu    sync.RWMutex
	rooms map[string]*types.Room
}

type fileDoc struct {
	Rooms map[string]*types.Room `json:"rooms"`
}

func OpenFile(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	f := &File{path: filepath.Clean(path), rooms: make(map[string]*types.Room)}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	b, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := f.flush(); err != nil {
			return nil, err
		}
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	var doc fileDoc
	if len(b) > 0 {
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.path, err)
		}
	}
	for code, r := range doc.Rooms {
		if r == nil {
			continue
		}
		r.Code = code
		f.rooms[code] = normalize(r)
	}
	return f, nil
}

func (f *File) Get(ctx context.Context, code string) (*types.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.rooms[code]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (f *File) Save(ctx context.Context, room *types.Room) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.rooms[room.Code]
	f.rooms[room.Code] = room.Clone()
	if err := f.flush(); err != nil {
		if had {
			f.rooms[room.Code] = prev
		} else {
			delete(f.rooms, room.Code)
		}
		return err
	}
	return nil
}

func (f *File) Delete(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, ok := f.rooms[code]
	if !ok {
		return false, nil
	}
	delete(f.rooms, code)
	if err := f.flush(); err != nil {
		f.rooms[code] = prev
		return false, err
	}
	return true, nil
}

func (f *File) List(ctx context.Context) ([]*types.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	f.mu.RLock()
	out := make([]*types.Room, 0, len(f.rooms))
	for _, r := range f.rooms {
		out = append(out, r.Clone())
	}
	f.mu.RUnlock()
	sortByCreated(out)
	return out, nil
}

func (f *File) Close() error { return nil }

// flush writes the document to a temp file and renames it over the target.
// Callers hold f.mu.
func (f *File) flush() error {
	b, err := json.MarshalIndent(fileDoc{Rooms: f.rooms}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrUnavailable, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".rooms-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename: %v", ErrUnavailable, err)
	}
	return nil
}
