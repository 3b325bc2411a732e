package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Inbound message types.
const (
	TypeCreateRoom  = "create_room"
	TypeJoinRoom    = "join_room"
	TypeLeaveRoom   = "leave_room"
	TypeSignal      = "signal"
	TypeChatMessage = "chat_message"
	TypeHeartbeat   = "heartbeat"
)

// Outbound message types.
const (
	TypeConnected   = "connected"
	TypeRoomCreated = "room_created"
	TypeJoined      = "joined"
	TypePeerJoined  = "peer_joined"
	TypePeerLeft    = "peer_left"
	TypePong        = "pong"
	TypeRoomDeleted = "room_deleted"
	TypeError       = "error"
)

// Error codes sent in error frames.
const (
	CodeMissingRoomCode    = "MISSING_ROOM_CODE"
	CodeRoomNotFound       = "ROOM_NOT_FOUND"
	CodeRoomClosed         = "ROOM_CLOSED"
	CodeRoomExpired        = "ROOM_EXPIRED"
	CodeRoomFull           = "ROOM_FULL"
	CodeNotInRoom          = "NOT_IN_ROOM"
	CodePeerNotFound       = "PEER_NOT_FOUND"
	CodeInvalidSignal      = "INVALID_SIGNAL"
	CodeInvalidJSON        = "INVALID_JSON"
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	CodeServerError        = "SERVER_ERROR"
)

const DefaultDisplayName = "Anonymous"

// Inbound is one decoded client frame. The concrete type is one of
// CreateRoom, JoinRoom, LeaveRoom, Signal, ChatMessage, Heartbeat or Unknown.
type Inbound interface {
	MessageType() string
}

type CreateRoom struct {
	DisplayName     string  `json:"display_name"`
	MaxParticipants int     `json:"max_participants"`
	TTLHours        float64 `json:"ttl_hours"`
}

type JoinRoom struct {
	RoomCode    string `json:"room_code"`
	DisplayName string `json:"display_name"`
}

type LeaveRoom struct{}

type Signal struct {
	To         string          `json:"to"`
	SignalType string          `json:"signal_type"`
	Payload    json.RawMessage `json:"payload"`
}

// ChatMessage carries the client payload untouched.
type ChatMessage struct {
	Payload json.RawMessage
}

type Heartbeat struct{}

type Unknown struct {
	Type string
}

func (CreateRoom) MessageType() string  { return TypeCreateRoom }
func (JoinRoom) MessageType() string    { return TypeJoinRoom }
func (LeaveRoom) MessageType() string   { return TypeLeaveRoom }
func (Signal) MessageType() string      { return TypeSignal }
func (ChatMessage) MessageType() string { return TypeChatMessage }
func (Heartbeat) MessageType() string   { return TypeHeartbeat }
func (u Unknown) MessageType() string   { return u.Type }

// DecodeError is a frame that could not be turned into an Inbound. Code is
// the wire error code to report.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string { return e.Code + ": " + e.Message }

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var errInvalidJSON = &DecodeError{Code: CodeInvalidJSON, Message: "Invalid JSON message"}

// Decode parses a text frame. Unrecognized types come back as Unknown, not
// as an error.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errInvalidJSON
	}
	payload := env.Payload
	if isNull(payload) {
		payload = json.RawMessage("{}")
	}

	switch env.Type {
	case TypeCreateRoom:
		var m CreateRoom
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, errInvalidJSON
		}
		m.DisplayName = displayName(m.DisplayName)
		return m, nil
	case TypeJoinRoom:
		var m JoinRoom
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, errInvalidJSON
		}
		m.RoomCode = strings.TrimSpace(m.RoomCode)
		m.DisplayName = displayName(m.DisplayName)
		return m, nil
	case TypeLeaveRoom:
		return LeaveRoom{}, nil
	case TypeSignal:
		var m Signal
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, &DecodeError{Code: CodeInvalidSignal, Message: "Invalid signal message"}
		}
		if m.To == "" || m.SignalType == "" || isNull(m.Payload) {
			return nil, &DecodeError{Code: CodeInvalidSignal, Message: "Invalid signal message"}
		}
		return m, nil
	case TypeChatMessage:
		if !isObject(payload) {
			return nil, errInvalidJSON
		}
		return ChatMessage{Payload: append(json.RawMessage(nil), payload...)}, nil
	case TypeHeartbeat:
		return Heartbeat{}, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}

func displayName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultDisplayName
	}
	return s
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

// Outbound is the envelope of every server frame.
type Outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type PeerInfo struct {
	SocketID    string `json:"socket_id"`
	DisplayName string `json:"display_name"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RoomCreatedPayload struct {
	RoomCode     string `json:"room_code"`
	CreatedAt    string `json:"created_at"`
	ExpiresAt    string `json:"expires_at"`
	YourSocketID string `json:"your_socket_id"`
}

type JoinedPayload struct {
	RoomCode     string     `json:"room_code"`
	YourSocketID string     `json:"your_socket_id"`
	Peers        []PeerInfo `json:"peers"`
}

type SignalPayload struct {
	From       string          `json:"from"`
	SignalType string          `json:"signal_type"`
	Payload    json.RawMessage `json:"payload"`
}

func connectedMsg(id string) Outbound {
	return Outbound{Type: TypeConnected, Payload: map[string]string{"socket_id": id}}
}

func peerJoinedMsg(id, name string) Outbound {
	return Outbound{Type: TypePeerJoined, Payload: PeerInfo{SocketID: id, DisplayName: name}}
}

func peerLeftMsg(id string) Outbound {
	return Outbound{Type: TypePeerLeft, Payload: map[string]string{"socket_id": id}}
}

func roomDeletedMsg(code string) Outbound {
	return Outbound{Type: TypeRoomDeleted, Payload: map[string]string{"room_code": code}}
}

func errorMsg(code, message string) Outbound {
	return Outbound{Type: TypeError, Payload: ErrorPayload{Code: code, Message: message}}
}

func unknownTypeMsg(t string) Outbound {
	return errorMsg(CodeUnknownMessageType, fmt.Sprintf("Unknown message type: %s", t))
}

// Timestamp renders t the way every frame and record does.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
