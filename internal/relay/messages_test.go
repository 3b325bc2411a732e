package relay

import (
	"errors"
	"testing"
)

func TestDecodeVariants(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"type":"create_room","payload":{"display_name":"Ann","max_participants":3}}`, TypeCreateRoom},
		{`{"type":"join_room","payload":{"room_code":"abc123"}}`, TypeJoinRoom},
		{`{"type":"leave_room"}`, TypeLeaveRoom},
		{`{"type":"signal","payload":{"to":"b","signal_type":"offer","payload":{"sdp":"v=0"}}}`, TypeSignal},
		{`{"type":"chat_message","payload":{"text":"hi"}}`, TypeChatMessage},
		{`{"type":"heartbeat","payload":null}`, TypeHeartbeat},
	}
	for _, c := range cases {
		m, err := Decode([]byte(c.in))
		if err != nil {
			t.Fatalf("decode %s: %v", c.in, err)
		}
		if m.MessageType() != c.want {
			t.Fatalf("decode %s: got %s want %s", c.in, m.MessageType(), c.want)
		}
	}
}

func TestDecodeDefaults(t *testing.T) {
	m, err := Decode([]byte(`{"type":"join_room","payload":{"room_code":"  abc123 ","display_name":"  "}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	j := m.(JoinRoom)
	if j.RoomCode != "abc123" || j.DisplayName != DefaultDisplayName {
		t.Fatalf("unexpected join %+v", j)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	m, err := Decode([]byte(`{"type":"dance","payload":{}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	u, ok := m.(Unknown)
	if !ok || u.Type != "dance" {
		t.Fatalf("expected Unknown{dance}, got %#v", m)
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		in   string
		code string
	}{
		{`not json`, CodeInvalidJSON},
		{`[1,2]`, CodeInvalidJSON},
		{`{"type":7}`, CodeInvalidJSON},
		{`{"type":"join_room","payload":"abc"}`, CodeInvalidJSON},
		{`{"type":"chat_message","payload":"hello"}`, CodeInvalidJSON},
		{`{"type":"signal","payload":{"to":"b","signal_type":"offer"}}`, CodeInvalidSignal},
		{`{"type":"signal","payload":{"signal_type":"offer","payload":{}}}`, CodeInvalidSignal},
		{`{"type":"signal","payload":[]}`, CodeInvalidSignal},
	}
	for _, c := range cases {
		_, err := Decode([]byte(c.in))
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("decode %s: expected DecodeError, got %v", c.in, err)
		}
		if de.Code != c.code {
			t.Fatalf("decode %s: got code %s want %s", c.in, de.Code, c.code)
		}
	}
}
