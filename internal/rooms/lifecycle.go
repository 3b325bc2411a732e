package rooms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"rendezvous/signal/internal/store"
	"rendezvous/signal/internal/types"
)

var (
	ErrNotFound           = errors.New("room not found")
	ErrRoomClosed         = errors.New("room is closed")
	ErrRoomExpired        = errors.New("room has expired")
	ErrRoomFull           = errors.New("room is full")
	ErrStoreUnavailable   = errors.New("room store unavailable")
	ErrCodeSpaceExhausted = errors.New("no free room code")
)

const (
	DefaultTTL             = 24 * time.Hour
	DefaultMaxParticipants = 50
)

type Options struct {
	DefaultTTL             time.Duration
	MaxTTL                 time.Duration // zero means unbounded
	DefaultMaxParticipants int

	Now    func() time.Time
	Rand   io.Reader
	Logger *slog.Logger
}

// CreateParams carries the optional inputs of CreateRoom. Zero values select
// the configured defaults.
type CreateParams struct {
	OwnerRef        string
	TTL             time.Duration
	MaxParticipants int
}

// Admission describes a participant entering a room.
type Admission struct {
	ConnectionID string
	DisplayName  string
	PrincipalRef string
}

type Stats struct {
	TotalRooms        int                     `json:"total_rooms"`
	RoomsByState      map[types.RoomState]int `json:"rooms_by_state"`
	TotalParticipants int                     `json:"total_participants"`
}

// Lifecycle owns every room-level rule: code allocation, state transitions,
// lazy expiry and capacity-bounded admission. Each mutation of one room is a
// single locked read-modify-write against the store.
type Lifecycle struct {
	store store.Store
	locks lockTable
	codes *codeGen
	log   *slog.Logger
	now   func() time.Time

	defaultTTL time.Duration
	maxTTL     time.Duration
	defaultMax int
}

func New(st store.Store, opts Options) *Lifecycle {
	l := &Lifecycle{
		store:      st,
		codes:      newCodeGen(opts.Rand),
		log:        opts.Logger,
		now:        opts.Now,
		defaultTTL: opts.DefaultTTL,
		maxTTL:     opts.MaxTTL,
		defaultMax: opts.DefaultMaxParticipants,
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.defaultTTL <= 0 {
		l.defaultTTL = DefaultTTL
	}
	if l.defaultMax <= 0 {
		l.defaultMax = DefaultMaxParticipants
	}
	return l
}

// CreateRoom allocates a unique code and persists a new open room.
func (l *Lifecycle) CreateRoom(ctx context.Context, p CreateParams) (*types.Room, error) {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	if l.maxTTL > 0 && ttl > l.maxTTL {
		ttl = l.maxTTL
	}
	maxP := p.MaxParticipants
	if maxP <= 0 {
		maxP = l.defaultMax
	}
	now := l.now().UTC()
	build := func(code string) *types.Room {
		return &types.Room{
			Code:            code,
			CreatedAt:       now,
			ExpiresAt:       now.Add(ttl),
			OwnerRef:        strings.TrimSpace(p.OwnerRef),
			State:           types.StateOpen,
			MaxParticipants: maxP,
			Participants:    make(map[string]*types.Participant),
		}
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := l.codes.random(CodeLength)
		if err != nil {
			return nil, err
		}
		room, ok, err := l.claim(ctx, build(code))
		if err != nil {
			return nil, err
		}
		if ok {
			metricRoomsCreated.Inc()
			return room, nil
		}
	}

	prefix, err := l.codes.random(CodeLength - 1)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(CodeCharset); i++ {
		room, ok, err := l.claim(ctx, build(l.codes.fallback(prefix)))
		if err != nil {
			return nil, err
		}
		if ok {
			metricRoomsCreated.Inc()
			metricCodeFallbacks.Inc()
			l.log.Warn("room code fallback issued", "code", room.Code, "random_attempts", maxCodeAttempts)
			return room, nil
		}
	}
	return nil, ErrCodeSpaceExhausted
}

// claim saves room unless its code is taken.
func (l *Lifecycle) claim(ctx context.Context, room *types.Room) (*types.Room, bool, error) {
	unlock := l.locks.lock(room.Code)
	defer unlock()
	_, err := l.store.Get(ctx, room.Code)
	switch {
	case err == nil:
		return nil, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, unavailable(err)
	}
	if err := l.store.Save(ctx, room); err != nil {
		return nil, false, unavailable(err)
	}
	return room.Clone(), true, nil
}

// GetRoom reads a room and applies lazy expiry: an open room observed at or
// past its expiry is flipped to expired and persisted before it is returned.
// The record is never deleted here.
func (l *Lifecycle) GetRoom(ctx context.Context, code string) (*types.Room, error) {
	unlock := l.locks.lock(code)
	defer unlock()
	return l.load(ctx, code)
}

// load is GetRoom for callers already holding the code's lock.
func (l *Lifecycle) load(ctx context.Context, code string) (*types.Room, error) {
	room, err := l.store.Get(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if room.State == types.StateOpen && room.PastExpiry(l.now()) {
		room.State = types.StateExpired
		if err := l.store.Save(ctx, room); err != nil {
			return nil, unavailable(err)
		}
		l.log.Debug("room expired", "code", code, "expires_at", room.ExpiresAt)
	}
	return room, nil
}

// ListRooms returns every stored room, optionally filtered by state, after
// applying lazy expiry to each.
func (l *Lifecycle) ListRooms(ctx context.Context, state types.RoomState) ([]*types.Room, error) {
	all, err := l.store.List(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]*types.Room, 0, len(all))
	now := l.now()
	for _, r := range all {
		if r.State == types.StateOpen && r.PastExpiry(now) {
			fresh, err := l.GetRoom(ctx, r.Code)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			r = fresh
		}
		if state != "" && r.State != state {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// CloseRoom moves an open room to closed. Rooms already closed or expired
// are returned unchanged.
func (l *Lifecycle) CloseRoom(ctx context.Context, code string) (*types.Room, error) {
	unlock := l.locks.lock(code)
	defer unlock()
	room, err := l.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.State != types.StateOpen {
		return room, nil
	}
	room.State = types.StateClosed
	if err := l.store.Save(ctx, room); err != nil {
		return nil, unavailable(err)
	}
	return room, nil
}

// DeleteRoom removes the record unconditionally and reports whether one existed.
func (l *Lifecycle) DeleteRoom(ctx context.Context, code string) (bool, error) {
	unlock := l.locks.lock(code)
	defer unlock()
	ok, err := l.store.Delete(ctx, code)
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// AddParticipant admits a connection. Rejections are evaluated in the order
// not found, closed, expired, full. Admitting a connection that is already a
// member succeeds without change and reports added=false.
func (l *Lifecycle) AddParticipant(ctx context.Context, code string, a Admission) (room *types.Room, added bool, err error) {
	unlock := l.locks.lock(code)
	defer unlock()

	room, err = l.load(ctx, code)
	if err != nil {
		metricJoins.WithLabelValues(joinResult(err)).Inc()
		return nil, false, err
	}
	switch {
	case room.State == types.StateClosed:
		err = ErrRoomClosed
	case room.State == types.StateExpired:
		err = ErrRoomExpired
	case room.Has(a.ConnectionID):
		metricJoins.WithLabelValues("rejoin").Inc()
		return room, false, nil
	case room.Full():
		err = ErrRoomFull
	}
	if err != nil {
		metricJoins.WithLabelValues(joinResult(err)).Inc()
		return nil, false, err
	}

	now := l.now().UTC()
	room.Participants[a.ConnectionID] = &types.Participant{
		ConnectionID: a.ConnectionID,
		DisplayName:  a.DisplayName,
		PrincipalRef: a.PrincipalRef,
		JoinedAt:     now,
		LastSeen:     now,
	}
	if err := l.store.Save(ctx, room); err != nil {
		metricJoins.WithLabelValues("error").Inc()
		return nil, false, unavailable(err)
	}
	metricJoins.WithLabelValues("ok").Inc()
	return room, true, nil
}

// RemoveParticipant drops a connection from a room. A room left empty is
// kept so a quick reconnect finds it again. The returned room is the state
// after removal, or nil when the room no longer exists.
func (l *Lifecycle) RemoveParticipant(ctx context.Context, code, connectionID string) (*types.Room, bool, error) {
	unlock := l.locks.lock(code)
	defer unlock()

	room, err := l.load(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !room.Has(connectionID) {
		return room, false, nil
	}
	delete(room.Participants, connectionID)
	if err := l.store.Save(ctx, room); err != nil {
		return nil, false, unavailable(err)
	}
	return room, true, nil
}

// Touch records activity for a participant. Unknown participants are ignored.
func (l *Lifecycle) Touch(ctx context.Context, code, connectionID string) error {
	unlock := l.locks.lock(code)
	defer unlock()

	room, err := l.load(ctx, code)
	if err != nil {
		return err
	}
	p, ok := room.Participants[connectionID]
	if !ok {
		return nil
	}
	p.LastSeen = l.now().UTC()
	if err := l.store.Save(ctx, room); err != nil {
		return unavailable(err)
	}
	return nil
}

// SweepExpired deletes every room past its expiry and returns how many went.
func (l *Lifecycle) SweepExpired(ctx context.Context) (int, error) {
	codes, err := l.PurgeExpired(ctx)
	return len(codes), err
}

// PurgeExpired is SweepExpired returning the purged codes. Each candidate is
// re-read under its lock so a concurrent admission either lands before the
// delete or observes ErrNotFound.
func (l *Lifecycle) PurgeExpired(ctx context.Context) ([]string, error) {
	all, err := l.store.List(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	now := l.now()
	var purged []string
	for _, r := range all {
		if !r.Purgeable(now) {
			continue
		}
		ok, err := l.purgeOne(ctx, r.Code, now)
		if err != nil {
			metricRoomsSwept.Add(float64(len(purged)))
			return purged, err
		}
		if ok {
			purged = append(purged, r.Code)
		}
	}
	metricRoomsSwept.Add(float64(len(purged)))
	if len(purged) > 0 {
		l.log.Info("expired rooms purged", "count", len(purged))
	}
	return purged, nil
}

func (l *Lifecycle) purgeOne(ctx context.Context, code string, now time.Time) (bool, error) {
	unlock := l.locks.lock(code)
	defer unlock()
	cur, err := l.store.Get(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, unavailable(err)
	}
	if !cur.Purgeable(now) {
		return false, nil
	}
	ok, err := l.store.Delete(ctx, code)
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// Stats aggregates room counts using each room's effective state.
func (l *Lifecycle) Stats(ctx context.Context) (Stats, error) {
	all, err := l.store.List(ctx)
	if err != nil {
		return Stats{}, unavailable(err)
	}
	st := Stats{RoomsByState: map[types.RoomState]int{
		types.StateOpen: 0, types.StateClosed: 0, types.StateExpired: 0,
	}}
	now := l.now()
	for _, r := range all {
		state := r.State
		if state == types.StateOpen && r.PastExpiry(now) {
			state = types.StateExpired
		}
		st.TotalRooms++
		st.RoomsByState[state]++
		st.TotalParticipants += len(r.Participants)
	}
	return st, nil
}

func unavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func joinResult(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRoomClosed):
		return "closed"
	case errors.Is(err, ErrRoomExpired):
		return "expired"
	case errors.Is(err, ErrRoomFull):
		return "full"
	}
	return "error"
}
