package room

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/studiosignal/internal/events"
	"github.com/friendsincode/studiosignal/internal/registry"
	"github.com/friendsincode/studiosignal/internal/signaling"
)

type fakeConn struct {
	id       uint64
	received []signaling.Outbound
}

func (f *fakeConn) ID() uint64 { return f.id }
func (f *fakeConn) Send(msg signaling.Outbound) error {
	f.received = append(f.received, msg)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	mgr := NewManager(reg, events.NewBus(), zerolog.Nop())
	return mgr, reg
}

func TestCreateOrJoin_CreatesRoomWhenRoomIDEmpty(t *testing.T) {
	mgr, reg := newTestManager(t)
	a := &fakeConn{id: 1}
	_ = reg.Register("alice", a)

	entry, err := mgr.CreateOrJoin("alice", "", signaling.RoleHost)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !entry.Created {
		t.Fatal("expected a new room to be created")
	}
	if entry.Role != signaling.RoleHost {
		t.Fatalf("expected host role, got %s", entry.Role)
	}
	if entry.Room.ID == "" {
		t.Fatal("expected a generated room id")
	}
}

func TestCreateOrJoin_SecondHostIsDowngradedToGuest(t *testing.T) {
	mgr, reg := newTestManager(t)
	a := &fakeConn{id: 1}
	b := &fakeConn{id: 2}
	_ = reg.Register("alice", a)
	_ = reg.Register("bob", b)

	first, err := mgr.CreateOrJoin("alice", "", signaling.RoleHost)
	if err != nil {
		t.Fatalf("first join: %v", err)
	}

	second, err := mgr.CreateOrJoin("bob", first.Room.ID, signaling.RoleHost)
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if !second.Downgraded || second.Role != signaling.RoleGuest {
		t.Fatalf("expected second host to be downgraded to guest, got role=%s downgraded=%v", second.Role, second.Downgraded)
	}
}

func TestCreateOrJoin_RejectsPeerAlreadyInARoom(t *testing.T) {
	mgr, reg := newTestManager(t)
	a := &fakeConn{id: 1}
	_ = reg.Register("alice", a)

	if _, err := mgr.CreateOrJoin("alice", "", signaling.RoleHost); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if _, err := mgr.CreateOrJoin("alice", "", signaling.RoleHost); err != ErrAlreadyInRoom {
		t.Fatalf("expected ErrAlreadyInRoom, got %v", err)
	}
}

func TestCreateOrJoin_NotifiesExistingMembersOfNewJoiner(t *testing.T) {
	mgr, reg := newTestManager(t)
	a := &fakeConn{id: 1}
	b := &fakeConn{id: 2}
	_ = reg.Register("alice", a)
	_ = reg.Register("bob", b)

	first, _ := mgr.CreateOrJoin("alice", "", signaling.RoleHost)
	if _, err := mgr.CreateOrJoin("bob", first.Room.ID, signaling.RoleGuest); err != nil {
		t.Fatalf("second join: %v", err)
	}

	if len(a.received) != 1 || a.received[0].Type != signaling.TypePeerJoined || a.received[0].PeerID != "bob" {
		t.Fatalf("expected alice to receive a peer-joined for bob, got %+v", a.received)
	}
	if len(b.received) != 0 {
		t.Fatalf("expected bob to receive no broadcast about himself, got %+v", b.received)
	}
}

func TestLeave_DestroysRoomWhenLastParticipantLeaves(t *testing.T) {
	mgr, reg := newTestManager(t)
	a := &fakeConn{id: 1}
	_ = reg.Register("alice", a)

	entry, _ := mgr.CreateOrJoin("alice", "", signaling.RoleHost)
	roomID := entry.Room.ID

	mgr.Leave("alice")

	if _, ok := mgr.Lookup(roomID); ok {
		t.Fatal("expected room to be destroyed after last participant left")
	}
}

func TestLeave_IsNoOpForUnknownPeer(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.Leave("nobody") // must not panic
}

func TestLeave_NotifiesRemainingMembers(t *testing.T) {
	mgr, reg := newTestManager(t)
	a := &fakeConn{id: 1}
	b := &fakeConn{id: 2}
	_ = reg.Register("alice", a)
	_ = reg.Register("bob", b)

	entry, _ := mgr.CreateOrJoin("alice", "", signaling.RoleHost)
	_, _ = mgr.CreateOrJoin("bob", entry.Room.ID, signaling.RoleGuest)

	mgr.Leave("bob")

	found := false
	for _, msg := range a.received {
		if msg.Type == signaling.TypePeerLeft && msg.PeerID == "bob" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected alice to receive peer-left for bob, got %+v", a.received)
	}
	if _, ok := mgr.Lookup(entry.Room.ID); !ok {
		t.Fatal("expected room to still exist with alice remaining")
	}
}
