package conns

import (
	"context"
	"sort"
	"sync"
)

// Transport is the outbound half of one client connection.
type Transport interface {
	Send(ctx context.Context, msg any) error
	Close(reason string) error
}

type entry struct {
	t    Transport
	room string
}

// Registry keeps at most one transport per connection id and tracks which
// room, if any, each connection is bound to.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]*entry
	byRoom map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*entry),
		byRoom: make(map[string]map[string]struct{}),
	}
}

// Register sets the transport for id and closes the previous one if present.
// The room binding of a replaced connection is kept.
func (r *Registry) Register(id string, t Transport) (prevClosed bool) {
	r.mu.Lock()
	old, ok := r.conns[id]
	if ok {
		r.conns[id] = &entry{t: t, room: old.room}
	} else {
		r.conns[id] = &entry{t: t}
	}
	r.mu.Unlock()
	if ok && old.t != nil && old.t != t {
		_ = old.t.Close("replaced")
		prevClosed = true
	}
	return
}

// BindToRoom records that id is in room code, replacing any earlier binding,
// and returns the previous one. ok is false when id is not registered.
func (r *Registry) BindToRoom(id, code string) (prev string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return "", false
	}
	prev = e.room
	if prev == code {
		return prev, true
	}
	r.unindex(id, prev)
	e.room = code
	if code != "" {
		m := r.byRoom[code]
		if m == nil {
			m = make(map[string]struct{})
			r.byRoom[code] = m
		}
		m[id] = struct{}{}
	}
	return prev, true
}

// Unbind clears the room binding of id, returning what it was.
func (r *Registry) Unbind(id string) string {
	prev, _ := r.BindToRoom(id, "")
	return prev
}

// UnbindIf clears the binding of id only while it still points at code.
func (r *Registry) UnbindIf(id, code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok || e.room != code || code == "" {
		return false
	}
	r.unindex(id, code)
	e.room = ""
	return true
}

// Unregister removes id. ok is false when id was not registered, which makes
// a second call for the same connection a no-op.
func (r *Registry) Unregister(id string) (room string, t Transport, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return "", nil, false
	}
	delete(r.conns, id)
	r.unindex(id, e.room)
	return e.room, e.t, true
}

func (r *Registry) RoomOf(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		return e.room
	}
	return ""
}

func (r *Registry) TransportOf(id string) Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		return e.t
	}
	return nil
}

// Members lists the connection ids bound to code, sorted.
func (r *Registry) Members(code string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.byRoom[code]
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// IDs returns every registered connection id.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) unindex(id, code string) {
	if code == "" {
		return
	}
	m := r.byRoom[code]
	delete(m, id)
	if len(m) == 0 {
		delete(r.byRoom, code)
	}
}
