package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rendezvous/signal/internal/conns"
	"rendezvous/signal/internal/events"
	"rendezvous/signal/internal/rooms"
)

const (
	DefaultSendTimeout = 10 * time.Second
	DefaultFanoutLimit = 32
)

type Options struct {
	Logger      *slog.Logger
	SendTimeout time.Duration
	// FanoutLimit bounds concurrent sends per broadcast.
	FanoutLimit int
	// Events, when set, receives membership history per room.
	Events *events.Store
}

// Relay is the per-connection protocol state machine. A connection is
// unjoined until a create or join binds it to a room in the registry.
// Frames from one connection must be handled sequentially by the caller.
type Relay struct {
	rooms *rooms.Lifecycle
	reg   *conns.Registry
	log   *slog.Logger
	evts  *events.Store

	sendTimeout time.Duration
	fanoutLimit int

	staleMu sync.Mutex
	stale   map[string]string // disconnected id -> room whose removal failed
}

func New(lc *rooms.Lifecycle, reg *conns.Registry, opts Options) *Relay {
	r := &Relay{
		rooms:       lc,
		reg:         reg,
		log:         opts.Logger,
		evts:        opts.Events,
		sendTimeout: opts.SendTimeout,
		fanoutLimit: opts.FanoutLimit,
		stale:       make(map[string]string),
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.sendTimeout <= 0 {
		r.sendTimeout = DefaultSendTimeout
	}
	if r.fanoutLimit <= 0 {
		r.fanoutLimit = DefaultFanoutLimit
	}
	return r
}

// Connect registers a new connection and greets it with its id.
func (r *Relay) Connect(ctx context.Context, id string, t conns.Transport) error {
	if r.reg.Register(id, t) {
		r.log.Warn("connection replaced", "socket_id", id)
	} else {
		metricConnections.Inc()
	}
	r.log.Debug("connection accepted", "socket_id", id)
	return r.send(ctx, t, connectedMsg(id))
}

// Disconnect is an implicit leave followed by unregistering. Only the first
// call for a connection has any effect.
func (r *Relay) Disconnect(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	code, _, ok := r.reg.Unregister(id)
	if !ok {
		return
	}
	metricConnections.Dec()
	r.log.Debug("connection closed", "socket_id", id, "room", code)
	if code == "" {
		return
	}
	if err := r.removeDisconnected(ctx, id, code); err != nil {
		r.log.Error("stale participant left in room", "socket_id", id, "room", code, "error", err)
		r.staleMu.Lock()
		r.stale[id] = code
		r.staleMu.Unlock()
	}
}

func (r *Relay) removeDisconnected(ctx context.Context, id, code string) error {
	_, removed, err := r.rooms.RemoveParticipant(ctx, code, id)
	if err != nil {
		return err
	}
	if removed {
		r.record(code, TypePeerLeft, map[string]any{"socket_id": id, "reason": "disconnect"})
		r.broadcast(ctx, r.reg.Members(code), peerLeftMsg(id))
	}
	return nil
}

// RetryStale reattempts participant removals that failed during disconnect
// and returns how many are still pending.
func (r *Relay) RetryStale(ctx context.Context) int {
	ctx = context.WithoutCancel(ctx)
	r.staleMu.Lock()
	pending := make(map[string]string, len(r.stale))
	for id, code := range r.stale {
		pending[id] = code
	}
	r.staleMu.Unlock()

	for id, code := range pending {
		if r.reg.RoomOf(id) == code {
			// live again under the same id
			r.forgetStale(id, code)
			continue
		}
		if err := r.removeDisconnected(ctx, id, code); err != nil {
			r.log.Warn("stale participant retry failed", "socket_id", id, "room", code, "error", err)
			continue
		}
		r.log.Info("stale participant removed", "socket_id", id, "room", code)
		r.forgetStale(id, code)
	}

	r.staleMu.Lock()
	defer r.staleMu.Unlock()
	return len(r.stale)
}

func (r *Relay) forgetStale(id, code string) {
	r.staleMu.Lock()
	if r.stale[id] == code {
		delete(r.stale, id)
	}
	r.staleMu.Unlock()
}

// EvictRoom unbinds every connection still bound to code and tells it the
// room is gone. Used after admin deletes and expiry sweeps.
func (r *Relay) EvictRoom(ctx context.Context, code string) {
	ctx = context.WithoutCancel(ctx)
	if r.evts != nil {
		r.evts.Forget(code)
	}
	var evicted []string
	for _, id := range r.reg.Members(code) {
		if r.reg.UnbindIf(id, code) {
			evicted = append(evicted, id)
		}
	}
	if len(evicted) == 0 {
		return
	}
	r.log.Info("room evicted", "room", code, "connections", len(evicted))
	r.broadcast(ctx, evicted, roomDeletedMsg(code))
}

func (r *Relay) ConnectionCount() int { return r.reg.Len() }

// HandleFrame decodes and applies one inbound text frame. It returns once
// every resulting send has completed.
func (r *Relay) HandleFrame(ctx context.Context, id string, data []byte) {
	ctx = context.WithoutCancel(ctx)
	msg, err := Decode(data)
	if err != nil {
		var de *DecodeError
		if !errors.As(err, &de) {
			de = errInvalidJSON
		}
		metricMessages.WithLabelValues("invalid").Inc()
		r.replyError(ctx, id, de.Code, de.Message)
		return
	}
	metricMessages.WithLabelValues(typeLabel(msg)).Inc()

	switch m := msg.(type) {
	case CreateRoom:
		r.createRoom(ctx, id, m)
	case JoinRoom:
		r.joinRoom(ctx, id, m)
	case LeaveRoom:
		r.leaveRoom(ctx, id)
	case Signal:
		r.signal(ctx, id, m)
	case ChatMessage:
		r.chat(ctx, id, m)
	case Heartbeat:
		r.heartbeat(ctx, id)
	case Unknown:
		metricErrors.WithLabelValues(CodeUnknownMessageType).Inc()
		r.reply(ctx, id, unknownTypeMsg(m.Type))
	}
}

func (r *Relay) createRoom(ctx context.Context, id string, m CreateRoom) {
	room, err := r.rooms.CreateRoom(ctx, rooms.CreateParams{
		OwnerRef:        id,
		TTL:             time.Duration(m.TTLHours * float64(time.Hour)),
		MaxParticipants: m.MaxParticipants,
	})
	if err != nil {
		r.replyLifecycleError(ctx, id, "", err)
		return
	}
	code := room.Code
	room, _, err = r.rooms.AddParticipant(ctx, code, rooms.Admission{ConnectionID: id, DisplayName: m.DisplayName})
	if err != nil {
		r.replyLifecycleError(ctx, id, code, err)
		return
	}
	if !r.bind(ctx, id, room.Code) {
		return
	}
	r.record(room.Code, TypeRoomCreated, map[string]any{"socket_id": id, "display_name": m.DisplayName})
	r.reply(ctx, id, Outbound{Type: TypeRoomCreated, Payload: RoomCreatedPayload{
		RoomCode:     room.Code,
		CreatedAt:    Timestamp(room.CreatedAt),
		ExpiresAt:    Timestamp(room.ExpiresAt),
		YourSocketID: id,
	}})
}

func (r *Relay) joinRoom(ctx context.Context, id string, m JoinRoom) {
	if m.RoomCode == "" {
		r.replyError(ctx, id, CodeMissingRoomCode, "Room code is required")
		return
	}
	room, added, err := r.rooms.AddParticipant(ctx, m.RoomCode, rooms.Admission{ConnectionID: id, DisplayName: m.DisplayName})
	if err != nil {
		r.replyLifecycleError(ctx, id, m.RoomCode, err)
		return
	}
	if !r.bind(ctx, id, room.Code) {
		return
	}
	peers := make([]PeerInfo, 0, len(room.Participants))
	for _, p := range room.Peers(id) {
		peers = append(peers, PeerInfo{SocketID: p.ConnectionID, DisplayName: p.DisplayName})
	}
	r.reply(ctx, id, Outbound{Type: TypeJoined, Payload: JoinedPayload{
		RoomCode:     room.Code,
		YourSocketID: id,
		Peers:        peers,
	}})
	if added {
		r.record(room.Code, TypePeerJoined, map[string]any{"socket_id": id, "display_name": m.DisplayName})
		r.broadcast(ctx, r.others(room.Code, id), peerJoinedMsg(id, m.DisplayName))
	}
}

// bind moves id into code after a successful admission. The old room, if
// any, is left afterwards. A connection that went away meanwhile has its
// admission undone and bind reports false.
func (r *Relay) bind(ctx context.Context, id, code string) bool {
	prev, ok := r.reg.BindToRoom(id, code)
	if !ok {
		if _, _, err := r.rooms.RemoveParticipant(ctx, code, id); err != nil {
			r.log.Error("undo admission", "socket_id", id, "room", code, "error", err)
		}
		return false
	}
	// A delete that ran between admission and binding found nobody to evict.
	if err := r.confirm(ctx, id, code); err != nil {
		r.reg.UnbindIf(id, code)
		if !errors.Is(err, rooms.ErrNotFound) {
			if _, _, rerr := r.rooms.RemoveParticipant(ctx, code, id); rerr != nil {
				r.log.Error("undo admission", "socket_id", id, "room", code, "error", rerr)
			}
		}
		if prev != "" && prev != code {
			r.rebind(ctx, id, prev)
		}
		r.replyLifecycleError(ctx, id, code, err)
		return false
	}
	if prev != "" && prev != code {
		if err := r.depart(ctx, id, prev); err != nil {
			r.log.Error("leave previous room", "socket_id", id, "room", prev, "error", err)
		}
	}
	return true
}

// confirm reports ErrNotFound unless code still exists with id admitted.
func (r *Relay) confirm(ctx context.Context, id, code string) error {
	room, err := r.rooms.GetRoom(ctx, code)
	if err != nil {
		return err
	}
	if !room.Has(id) {
		return rooms.ErrNotFound
	}
	return nil
}

// rebind restores id into prev after a failed move out of it.
func (r *Relay) rebind(ctx context.Context, id, prev string) {
	if _, ok := r.reg.BindToRoom(id, prev); !ok {
		return
	}
	if err := r.confirm(ctx, id, prev); err != nil {
		r.reg.UnbindIf(id, prev)
	}
}

func (r *Relay) leaveRoom(ctx context.Context, id string) {
	code := r.reg.RoomOf(id)
	if code == "" {
		r.replyError(ctx, id, CodeNotInRoom, "You are not in a room")
		return
	}
	if err := r.depart(ctx, id, code); err != nil {
		r.replyLifecycleError(ctx, id, code, err)
		return
	}
	r.reg.UnbindIf(id, code)
}

// depart removes id from code and tells the remaining members.
func (r *Relay) depart(ctx context.Context, id, code string) error {
	_, removed, err := r.rooms.RemoveParticipant(ctx, code, id)
	if err != nil {
		return err
	}
	if removed {
		r.record(code, TypePeerLeft, map[string]any{"socket_id": id, "reason": "leave"})
		r.broadcast(ctx, r.others(code, id), peerLeftMsg(id))
	}
	return nil
}

func (r *Relay) record(code, typ string, payload map[string]any) {
	if r.evts != nil {
		r.evts.Append(code, typ, payload)
	}
}

func (r *Relay) signal(ctx context.Context, id string, m Signal) {
	code := r.reg.RoomOf(id)
	if code == "" {
		r.replyError(ctx, id, CodeNotInRoom, "You are not in a room")
		return
	}
	if r.reg.RoomOf(m.To) != code {
		r.replyError(ctx, id, CodePeerNotFound, "Target peer not in room")
		return
	}
	r.broadcast(ctx, []string{m.To}, Outbound{Type: TypeSignal, Payload: SignalPayload{
		From:       id,
		SignalType: m.SignalType,
		Payload:    m.Payload,
	}})
}

func (r *Relay) chat(ctx context.Context, id string, m ChatMessage) {
	code := r.reg.RoomOf(id)
	if code == "" {
		r.replyError(ctx, id, CodeNotInRoom, "You are not in a room")
		return
	}
	r.broadcast(ctx, r.reg.Members(code), Outbound{Type: TypeChatMessage, Payload: json.RawMessage(m.Payload)})
}

func (r *Relay) heartbeat(ctx context.Context, id string) {
	if code := r.reg.RoomOf(id); code != "" {
		if err := r.rooms.Touch(ctx, code, id); err != nil {
			r.log.Debug("heartbeat touch", "socket_id", id, "room", code, "error", err)
		}
	}
	r.reply(ctx, id, Outbound{Type: TypePong})
}

func (r *Relay) others(code, exclude string) []string {
	members := r.reg.Members(code)
	out := members[:0]
	for _, m := range members {
		if m != exclude {
			out = append(out, m)
		}
	}
	return out
}

func (r *Relay) replyLifecycleError(ctx context.Context, id, code string, err error) {
	switch {
	case errors.Is(err, rooms.ErrNotFound):
		r.replyError(ctx, id, CodeRoomNotFound, fmt.Sprintf("Room %s not found", code))
	case errors.Is(err, rooms.ErrRoomClosed):
		r.replyError(ctx, id, CodeRoomClosed, "Room is closed")
	case errors.Is(err, rooms.ErrRoomExpired):
		r.replyError(ctx, id, CodeRoomExpired, "Room has expired")
	case errors.Is(err, rooms.ErrRoomFull):
		r.replyError(ctx, id, CodeRoomFull, "Room is full")
	default:
		r.log.Error("room operation failed", "socket_id", id, "room", code, "error", err)
		r.replyError(ctx, id, CodeServerError, "Internal server error")
	}
}

func (r *Relay) replyError(ctx context.Context, id, code, message string) {
	metricErrors.WithLabelValues(code).Inc()
	r.reply(ctx, id, errorMsg(code, message))
}

func (r *Relay) reply(ctx context.Context, id string, msg Outbound) {
	r.broadcast(ctx, []string{id}, msg)
}

// broadcast sends msg to every id concurrently and waits for all sends.
// Recipients whose send fails are dropped after the wait; the rest are
// unaffected.
func (r *Relay) broadcast(ctx context.Context, ids []string, msg Outbound) {
	if len(ids) == 0 {
		return
	}
	if len(ids) > 1 {
		metricFanout.Observe(float64(len(ids)))
	}
	var (
		mu     sync.Mutex
		failed []string
	)
	var g errgroup.Group
	g.SetLimit(r.fanoutLimit)
	for _, id := range ids {
		t := r.reg.TransportOf(id)
		if t == nil {
			continue
		}
		g.Go(func() error {
			if err := r.send(ctx, t, msg); err != nil {
				r.log.Warn("send failed", "socket_id", id, "type", msg.Type, "error", err)
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	for _, id := range failed {
		r.drop(ctx, id)
	}
}

func (r *Relay) send(ctx context.Context, t conns.Transport, msg Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	return t.Send(ctx, msg)
}

// drop closes a recipient that could not be written to and runs its
// disconnect path.
func (r *Relay) drop(ctx context.Context, id string) {
	metricSendFailures.Inc()
	if t := r.reg.TransportOf(id); t != nil {
		go func() { _ = t.Close("send failed") }()
	}
	r.Disconnect(ctx, id)
}

// CloseAll closes every live transport. Their read loops then run the normal
// disconnect path.
func (r *Relay) CloseAll(reason string) {
	for _, id := range r.reg.IDs() {
		if t := r.reg.TransportOf(id); t != nil {
			_ = t.Close(reason)
		}
	}
}
