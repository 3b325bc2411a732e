package conns

import (
	"context"
	"reflect"
	"testing"
)

type stubTransport struct {
	closed string
}

func (s *stubTransport) Send(context.Context, any) error { return nil }
func (s *stubTransport) Close(reason string) error     { s.closed = reason; return nil }

func TestRegisterReplacesAndCloses(t *testing.T) {
	r := NewRegistry()
	a, b := &stubTransport{}, &stubTransport{}
	if r.Register("c1", a) {
		t.Fatalf("first register should not report a replacement")
	}
	r.BindToRoom("c1", "room01")
	if !r.Register("c1", b) {
		t.Fatalf("expected replacement")
	}
	if a.closed != "replaced" {
		t.Fatalf("old transport not closed, got %q", a.closed)
	}
	if r.TransportOf("c1") != b || r.RoomOf("c1") != "room01" {
		t.Fatalf("replacement lost state")
	}
}

func TestBindingAndMembers(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c1", "c2", "c3"} {
		r.Register(id, &stubTransport{})
	}
	r.BindToRoom("c2", "aaa111")
	r.BindToRoom("c1", "aaa111")
	r.BindToRoom("c3", "bbb222")

	if got := r.Members("aaa111"); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Fatalf("members aaa111: %v", got)
	}
	if prev, ok := r.BindToRoom("c1", "bbb222"); !ok || prev != "aaa111" {
		t.Fatalf("prev binding %q", prev)
	}
	if got := r.Members("bbb222"); !reflect.DeepEqual(got, []string{"c1", "c3"}) {
		t.Fatalf("members bbb222: %v", got)
	}
	if r.UnbindIf("c3", "aaa111") {
		t.Fatalf("UnbindIf should ignore a stale room")
	}
	if !r.UnbindIf("c3", "bbb222") || r.RoomOf("c3") != "" {
		t.Fatalf("UnbindIf failed")
	}
	if prev := r.Unbind("c2"); prev != "aaa111" {
		t.Fatalf("unbind prev %q", prev)
	}
	if got := r.Members("aaa111"); len(got) != 0 {
		t.Fatalf("expected empty room, got %v", got)
	}
	if _, ok := r.BindToRoom("ghost", "aaa111"); ok || len(r.Members("aaa111")) != 0 {
		t.Fatalf("unknown id must not bind")
	}
}

func TestUnregisterOnce(t *testing.T) {
	r := NewRegistry()
	tr := &stubTransport{}
	r.Register("c1", tr)
	r.BindToRoom("c1", "room01")

	room, got, ok := r.Unregister("c1")
	if !ok || room != "room01" || got != tr {
		t.Fatalf("unregister: room=%q ok=%v", room, ok)
	}
	if _, _, ok := r.Unregister("c1"); ok {
		t.Fatalf("second unregister should be a no-op")
	}
	if r.Len() != 0 || len(r.Members("room01")) != 0 {
		t.Fatalf("state not cleared")
	}
}
