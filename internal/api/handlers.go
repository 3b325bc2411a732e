package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"rendezvous/signal/internal/config"
	"rendezvous/signal/internal/events"
	"rendezvous/signal/internal/health"
	"rendezvous/signal/internal/relay"
	"rendezvous/signal/internal/rooms"
	"rendezvous/signal/internal/sweeper"
	"rendezvous/signal/internal/types"
)

type Handlers struct {
	cfg   config.Config
	rooms *rooms.Lifecycle
	relay *relay.Relay
	sweep *sweeper.Sweeper
	evts  *events.Store
	log   *slog.Logger
}

func NewHandlers(cfg config.Config, lc *rooms.Lifecycle, rl *relay.Relay, sw *sweeper.Sweeper, ev *events.Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if ev == nil {
		ev = events.NewStore(0)
	}
	return &Handlers{cfg: cfg, rooms: lc, relay: rl, sweep: sw, evts: ev, log: logger}
}

type createRoomRequest struct {
	OwnerID         string  `json:"owner_id"`
	MaxParticipants int     `json:"max_participants"`
	TTLHours        float64 `json:"ttl_hours"`
}

type participantInfo struct {
	SocketID    string `json:"socket_id"`
	DisplayName string `json:"display_name"`
	JoinedAt    string `json:"joined_at"`
}

type roomInfo struct {
	RoomCode         string            `json:"room_code"`
	CreatedAt        string            `json:"created_at"`
	ExpiresAt        string            `json:"expires_at"`
	State            types.RoomState   `json:"state"`
	ParticipantCount int               `json:"participant_count"`
	MaxParticipants  int               `json:"max_participants"`
	Participants     []participantInfo `json:"participants"`
}

func toInfo(r *types.Room) roomInfo {
	ps := r.Peers("")
	info := roomInfo{
		RoomCode:         r.Code,
		CreatedAt:        relay.Timestamp(r.CreatedAt),
		ExpiresAt:        relay.Timestamp(r.ExpiresAt),
		State:            r.State,
		ParticipantCount: len(ps),
		MaxParticipants:  r.MaxParticipants,
		Participants:     make([]participantInfo, 0, len(ps)),
	}
	for _, p := range ps {
		info.Participants = append(info.Participants, participantInfo{
			SocketID:    p.ConnectionID,
			DisplayName: p.DisplayName,
			JoinedAt:    relay.Timestamp(p.JoinedAt),
		})
	}
	return info
}

func (h *Handlers) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MaxParticipants < 0 || req.TTLHours < 0 {
		writeDetail(w, http.StatusBadRequest, "max_participants and ttl_hours must not be negative")
		return
	}
	room, err := h.rooms.CreateRoom(r.Context(), rooms.CreateParams{
		OwnerRef:        req.OwnerID,
		TTL:             time.Duration(req.TTLHours * float64(time.Hour)),
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		h.serverError(w, "create room", err)
		return
	}
	h.log.Info("room created via api", "room", room.Code, "owner", room.OwnerRef)
	writeJSON(w, http.StatusOK, map[string]any{
		"room_code":  room.Code,
		"created_at": relay.Timestamp(room.CreatedAt),
		"expires_at": relay.Timestamp(room.ExpiresAt),
		"owner_id":   room.OwnerRef,
	})
}

func (h *Handlers) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	state := types.RoomState(r.URL.Query().Get("state"))
	if state != "" && !state.Valid() {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", state))
		return
	}
	list, err := h.rooms.ListRooms(r.Context(), state)
	if err != nil {
		h.serverError(w, "list rooms", err)
		return
	}
	out := make([]roomInfo, 0, len(list))
	for _, room := range list {
		out = append(out, toInfo(room))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": out, "count": len(out)})
}

func (h *Handlers) HandleGetRoom(w http.ResponseWriter, r *http.Request, code string) {
	room, err := h.rooms.GetRoom(r.Context(), code)
	if errors.Is(err, rooms.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		h.serverError(w, "get room", err)
		return
	}
	writeJSON(w, http.StatusOK, toInfo(room))
}

func (h *Handlers) HandleCloseRoom(w http.ResponseWriter, r *http.Request, code string) {
	room, err := h.rooms.CloseRoom(r.Context(), code)
	if errors.Is(err, rooms.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		h.serverError(w, "close room", err)
		return
	}
	writeJSON(w, http.StatusOK, toInfo(room))
}

func (h *Handlers) HandleDeleteRoom(w http.ResponseWriter, r *http.Request, code string) {
	ok, err := h.rooms.DeleteRoom(r.Context(), code)
	if err != nil {
		h.serverError(w, "delete room", err)
		return
	}
	if !ok {
		writeDetail(w, http.StatusNotFound, "Room not found")
		return
	}
	h.relay.EvictRoom(r.Context(), code)
	h.log.Info("room deleted via api", "room", code)
	writeJSON(w, http.StatusOK, map[string]any{"message": fmt.Sprintf("Room %s deleted successfully", code)})
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, code string) {
	if _, err := h.rooms.GetRoom(r.Context(), code); err != nil {
		if errors.Is(err, rooms.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "Room not found")
			return
		}
		h.serverError(w, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room_code": code,
		"events":    h.evts.List(code),
	})
}

func (h *Handlers) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	n := h.sweep.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Cleaned up %d expired rooms", n),
		"count":   n,
	})
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.rooms.Stats(r.Context())
	if err != nil {
		h.serverError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_rooms":        st.TotalRooms,
		"rooms_by_state":     st.RoomsByState,
		"total_participants": st.TotalParticipants,
		"active_connections": h.relay.ConnectionCount(),
	})
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var roomCount int
	status := health.CheckAll(r.Context(), health.Check{Name: "store", Run: func(ctx context.Context) error {
		st, err := h.rooms.Stats(ctx)
		roomCount = st.TotalRooms
		return err
	}})
	code, label := http.StatusOK, "healthy"
	if !status.OK {
		code, label = http.StatusServiceUnavailable, "unhealthy"
		h.log.Warn("health check failed", "report", status.String())
	}
	writeJSON(w, code, map[string]any{
		"status":    label,
		"timestamp": relay.Timestamp(status.CheckedAt),
		"checks":    status.Checks,
		"metrics": map[string]any{
			"active_websocket_connections": h.relay.ConnectionCount(),
			"active_rooms":                 roomCount,
			"api_authentication":           "enabled",
		},
		"environment": map[string]any{
			"max_participants_per_room": h.cfg.Rooms.MaxParticipants,
			"room_ttl_hours":            h.cfg.Rooms.TTL.Hours(),
			"store_driver":              h.cfg.Store.Driver,
		},
	})
}

func (h *Handlers) serverError(w http.ResponseWriter, op string, err error) {
	h.log.Error(op, "error", err)
	status := http.StatusInternalServerError
	if errors.Is(err, rooms.ErrStoreUnavailable) {
		status = http.StatusServiceUnavailable
	}
	writeDetail(w, status, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
