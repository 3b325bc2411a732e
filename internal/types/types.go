package types

import (
	"sort"
	"time"
)

// RoomState is the lifecycle state of a room. Transitions only ever leave
// StateOpen.
type RoomState string

const (
	StateOpen    RoomState = "open"
	StateClosed  RoomState = "closed"
	StateExpired RoomState = "expired"
)

// Valid reports whether s is one of the known states.
func (s RoomState) Valid() bool {
	switch s {
	case StateOpen, StateClosed, StateExpired:
		return true
	}
	return false
}

type Participant struct {
	ConnectionID string    `json:"socket_id"`
	DisplayName  string    `json:"display_name,omitempty"`
	PrincipalRef string    `json:"user_id,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
	LastSeen     time.Time `json:"last_seen"`
}

type Room struct {
	Code            string                  `json:"room_code"`
	CreatedAt       time.Time               `json:"created_at"`
	ExpiresAt       time.Time               `json:"expires_at"`
	OwnerRef        string                  `json:"owner_socket_id,omitempty"`
	State           RoomState               `json:"state"`
	MaxParticipants int                     `json:"max_participants"`
	Participants    map[string]*Participant `json:"participants"`
}

// PastExpiry reports whether now has reached the room's expiry time.
func (r *Room) PastExpiry(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Purgeable reports whether the sweeper may remove the room.
func (r *Room) Purgeable(now time.Time) bool {
	return r.State == StateExpired || r.PastExpiry(now)
}

func (r *Room) Full() bool {
	return len(r.Participants) >= r.MaxParticipants
}

func (r *Room) Has(connectionID string) bool {
	_, ok := r.Participants[connectionID]
	return ok
}

// Peers returns the participants ordered by join time, then connection id,
// skipping exclude.
func (r *Room) Peers(exclude string) []*Participant {
	out := make([]*Participant, 0, len(r.Participants))
	for id, p := range r.Participants {
		if id == exclude {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}

// Clone returns a deep copy so stores never share participant maps with callers.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Participants = make(map[string]*Participant, len(r.Participants))
	for id, p := range r.Participants {
		cp := *p
		c.Participants[id] = &cp
	}
	return &c
}
