package registry

import "testing"

type fakeConn struct{ id uint64 }

func (f *fakeConn) ID() uint64 { return f.id }

func TestRegister_RejectsDuplicatePeerID(t *testing.T) {
	r := New()
	a := &fakeConn{id: 1}
	b := &fakeConn{id: 2}

	if err := r.Register("alice", a); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register("alice", b); err != ErrAlreadyTaken {
		t.Fatalf("expected ErrAlreadyTaken, got %v", err)
	}

	conn, ok := r.Lookup("alice")
	if !ok || conn != Conn(a) {
		t.Fatalf("expected alice to still resolve to the first connection")
	}
}

func TestUnregisterByConnection_IsIdempotent(t *testing.T) {
	r := New()
	a := &fakeConn{id: 1}
	if err := r.Register("alice", a); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.UnregisterByConnection(a)
	r.UnregisterByConnection(a) // second call must not panic

	if _, ok := r.Lookup("alice"); ok {
		t.Fatal("expected alice to be unregistered")
	}
	if _, ok := r.PeerIDOf(a); ok {
		t.Fatal("expected no peer id bound to connection a")
	}
}

func TestPeerIDOf_ReturnsBoundIdentity(t *testing.T) {
	r := New()
	a := &fakeConn{id: 7}
	if err := r.Register("bob", a); err != nil {
		t.Fatalf("register: %v", err)
	}
	peerID, ok := r.PeerIDOf(a)
	if !ok || peerID != "bob" {
		t.Fatalf("expected bob, got %q (ok=%v)", peerID, ok)
	}
}

func TestCount_ReflectsRegistrations(t *testing.T) {
	r := New()
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
	_ = r.Register("a", &fakeConn{id: 1})
	_ = r.Register("b", &fakeConn{id: 2})
	if r.Count() != 2 {
		t.Fatalf("expected 2, got %d", r.Count())
	}
	r.Unregister("a")
	if r.Count() != 1 {
		t.Fatalf("expected 1 after unregister, got %d", r.Count())
	}
}
