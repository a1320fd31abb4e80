package session_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/friendsincode/studiosignal/internal/events"
	"github.com/friendsincode/studiosignal/internal/registry"
	"github.com/friendsincode/studiosignal/internal/relay"
	"github.com/friendsincode/studiosignal/internal/room"
	"github.com/friendsincode/studiosignal/internal/session"
	"github.com/friendsincode/studiosignal/internal/signaling"
	"github.com/friendsincode/studiosignal/internal/streamrelay"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	reg := registry.New()
	bus := events.NewBus()
	logger := zerolog.Nop()
	deps := session.Deps{
		Registry:     reg,
		Rooms:        room.NewManager(reg, bus, logger),
		Relay:        relay.New(reg, logger),
		Streams:      streamrelay.NewTable(streamrelay.SinkConfig{}, bus, logger),
		Logger:       logger,
		PingInterval: time.Hour,
		PongTimeout:  time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/signal", func(w http.ResponseWriter, r *http.Request) {
		session.HandleConnection(w, r, deps)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, "ws" + srv.URL[len("http"):] + "/signal"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg signaling.Inbound) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recvOutbound(t *testing.T, conn *websocket.Conn) signaling.Outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out signaling.Outbound
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal outbound: %v", err)
	}
	return out
}

func TestRegister_AssignsIdentityAndConfirms(t *testing.T) {
	_, url := newTestServer(t)
	conn := dial(t, url)

	send(t, conn, signaling.Inbound{Type: signaling.TypeRegister, PeerID: "alice"})
	out := recvOutbound(t, conn)

	if out.Type != signaling.TypeRegistered || out.PeerID != "alice" {
		t.Fatalf("expected registered/alice, got %+v", out)
	}
}

func TestRegister_RejectsDuplicatePeerID(t *testing.T) {
	_, url := newTestServer(t)

	first := dial(t, url)
	send(t, first, signaling.Inbound{Type: signaling.TypeRegister, PeerID: "alice"})
	if out := recvOutbound(t, first); out.Type != signaling.TypeRegistered {
		t.Fatalf("expected first registration to succeed, got %+v", out)
	}

	second := dial(t, url)
	send(t, second, signaling.Inbound{Type: signaling.TypeRegister, PeerID: "alice"})
	out := recvOutbound(t, second)
	if out.Type != signaling.TypeError {
		t.Fatalf("expected the second registration to be rejected, got %+v", out)
	}
}

func TestCreateOrJoinRoom_NotifiesExistingMemberAndRelaysOffer(t *testing.T) {
	_, url := newTestServer(t)

	a := dial(t, url)
	send(t, a, signaling.Inbound{Type: signaling.TypeRegister, PeerID: "alice"})
	recvOutbound(t, a) // registered

	send(t, a, signaling.Inbound{Type: signaling.TypeCreateOrJoinRoom, Role: signaling.RoleHost})
	created := recvOutbound(t, a)
	if created.Type != signaling.TypeRoomCreated || created.HostID != "alice" {
		t.Fatalf("expected room-created with alice as host, got %+v", created)
	}

	b := dial(t, url)
	send(t, b, signaling.Inbound{Type: signaling.TypeRegister, PeerID: "bob"})
	recvOutbound(t, b) // registered

	send(t, b, signaling.Inbound{Type: signaling.TypeCreateOrJoinRoom, RoomID: created.RoomID, Role: signaling.RoleGuest})

	joinedNotice := recvOutbound(t, a)
	if joinedNotice.Type != signaling.TypePeerJoined || joinedNotice.PeerID != "bob" {
		t.Fatalf("expected alice to observe bob's peer-joined, got %+v", joinedNotice)
	}
	joined := recvOutbound(t, b)
	if joined.Type != signaling.TypeRoomJoined || len(joined.Participants) != 2 {
		t.Fatalf("expected bob to receive room-joined listing alice and himself, got %+v", joined)
	}

	offerSDP := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	send(t, b, signaling.Inbound{Type: signaling.TypeOffer, From: "bob", To: "alice", SDP: offerSDP})

	relayed := recvOutbound(t, a)
	if relayed.Type != signaling.TypeOffer || relayed.From != "bob" || relayed.SDP == nil || relayed.SDP.SDP != "v=0" {
		t.Fatalf("expected alice to receive bob's relayed offer, got %+v", relayed)
	}
}

func TestMute_BroadcastsToOtherRoomMembersNotSender(t *testing.T) {
	_, url := newTestServer(t)

	a := dial(t, url)
	send(t, a, signaling.Inbound{Type: signaling.TypeRegister, PeerID: "alice"})
	recvOutbound(t, a)
	send(t, a, signaling.Inbound{Type: signaling.TypeCreateOrJoinRoom, Role: signaling.RoleHost})
	created := recvOutbound(t, a)

	b := dial(t, url)
	send(t, b, signaling.Inbound{Type: signaling.TypeRegister, PeerID: "bob"})
	recvOutbound(t, b)
	send(t, b, signaling.Inbound{Type: signaling.TypeCreateOrJoinRoom, RoomID: created.RoomID, Role: signaling.RoleGuest})
	recvOutbound(t, a) // peer-joined
	recvOutbound(t, b) // room-joined

	muted := true
	send(t, a, signaling.Inbound{
		Type: signaling.TypeMute, From: "alice", PeerID: "bob",
		Muted: &muted, Authority: signaling.AuthorityProducer,
	})

	out := recvOutbound(t, b)
	if out.Type != signaling.TypeMute || out.PeerID != "bob" || out.Muted == nil || !*out.Muted {
		t.Fatalf("expected bob to receive the mute broadcast, got %+v", out)
	}
}

func TestStreamChunk_RejectedWithoutPrecedingStartStream(t *testing.T) {
	_, url := newTestServer(t)

	a := dial(t, url)
	send(t, a, signaling.Inbound{Type: signaling.TypeRegister, PeerID: "alice"})
	recvOutbound(t, a)
	send(t, a, signaling.Inbound{Type: signaling.TypeCreateOrJoinRoom, Role: signaling.RoleHost})
	recvOutbound(t, a)

	send(t, a, signaling.Inbound{Type: signaling.TypeStreamChunk, Chunk: base64.StdEncoding.EncodeToString([]byte("x"))})
	out := recvOutbound(t, a)
	if out.Type != signaling.TypeError {
		t.Fatalf("expected stream-chunk without start-stream to be rejected, got %+v", out)
	}
}

func TestOffer_RejectedWhenFromDoesNotMatchRegisteredPeer(t *testing.T) {
	_, url := newTestServer(t)

	a := dial(t, url)
	send(t, a, signaling.Inbound{Type: signaling.TypeRegister, PeerID: "alice"})
	recvOutbound(t, a)
	send(t, a, signaling.Inbound{Type: signaling.TypeCreateOrJoinRoom, Role: signaling.RoleHost})
	created := recvOutbound(t, a)

	b := dial(t, url)
	send(t, b, signaling.Inbound{Type: signaling.TypeRegister, PeerID: "bob"})
	recvOutbound(t, b)
	send(t, b, signaling.Inbound{Type: signaling.TypeCreateOrJoinRoom, RoomID: created.RoomID, Role: signaling.RoleGuest})
	recvOutbound(t, a) // peer-joined
	recvOutbound(t, b) // room-joined

	spoofedSDP := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	send(t, b, signaling.Inbound{Type: signaling.TypeOffer, From: "alice", To: "alice", SDP: spoofedSDP})

	out := recvOutbound(t, b)
	if out.Type != signaling.TypeError {
		t.Fatalf("expected an offer spoofing another peer's from to be rejected, got %+v", out)
	}
}

func TestDisconnect_NotifiesRemainingMemberOfPeerLeft(t *testing.T) {
	_, url := newTestServer(t)

	a := dial(t, url)
	send(t, a, signaling.Inbound{Type: signaling.TypeRegister, PeerID: "alice"})
	recvOutbound(t, a)
	send(t, a, signaling.Inbound{Type: signaling.TypeCreateOrJoinRoom, Role: signaling.RoleHost})
	created := recvOutbound(t, a)

	b := dial(t, url)
	send(t, b, signaling.Inbound{Type: signaling.TypeRegister, PeerID: "bob"})
	recvOutbound(t, b)
	send(t, b, signaling.Inbound{Type: signaling.TypeCreateOrJoinRoom, RoomID: created.RoomID, Role: signaling.RoleGuest})
	recvOutbound(t, a) // peer-joined
	recvOutbound(t, b) // room-joined

	if err := b.Close(websocket.StatusNormalClosure, "done"); err != nil {
		t.Fatalf("close: %v", err)
	}

	left := recvOutbound(t, a)
	if left.Type != signaling.TypePeerLeft || left.PeerID != "bob" {
		t.Fatalf("expected alice to observe bob's peer-left, got %+v", left)
	}

	// alice is now alone; her close only has to succeed here. Destruction
	// of the emptied room is checked in the room package
	// (TestLeave_DestroysRoomWhenLastParticipantLeaves).
	if err := a.Close(websocket.StatusNormalClosure, "done"); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestStreamingSession_DeliversChunksInOrderAndRejectsAfterStop(t *testing.T) {
	received := make(chan []byte, 8)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		for {
			n, err := r.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				received <- chunk
			}
			if err != nil {
				return
			}
		}
	}))
	defer sink.Close()

	reg := registry.New()
	bus := events.NewBus()
	logger := zerolog.Nop()
	deps := session.Deps{
		Registry: reg,
		Rooms:    room.NewManager(reg, bus, logger),
		Relay:    relay.New(reg, logger),
		Streams: streamrelay.NewTable(streamrelay.SinkConfig{
			URL: sink.URL,
		}, bus, logger),
		Logger:       logger,
		PingInterval: time.Hour,
		PongTimeout:  time.Hour,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/signal", func(w http.ResponseWriter, r *http.Request) {
		session.HandleConnection(w, r, deps)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	url := "ws" + srv.URL[len("http"):] + "/signal"

	a := dial(t, url)
	send(t, a, signaling.Inbound{Type: signaling.TypeRegister, PeerID: "alice"})
	recvOutbound(t, a)
	send(t, a, signaling.Inbound{Type: signaling.TypeCreateOrJoinRoom, Role: signaling.RoleHost})
	recvOutbound(t, a)

	send(t, a, signaling.Inbound{Type: signaling.TypeStartStream})
	send(t, a, signaling.Inbound{Type: signaling.TypeStreamChunk, Chunk: base64.StdEncoding.EncodeToString([]byte("hi"))})

	// The sink handler above only flushes its response once the request
	// body reaches EOF, so the stream-status notifications (active, then
	// stopped) both arrive after stop-stream closes the egress body clean.
	var got []byte
	deadline := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case b := <-received:
			got = append(got, b...)
		case <-deadline:
			t.Fatalf("timed out waiting for sink to receive chunk, got %q so far", got)
		}
	}
	if string(got) != "hi" {
		t.Fatalf("expected sink to receive \"hi\" in order, got %q", got)
	}

	send(t, a, signaling.Inbound{Type: signaling.TypeStopStream})

	active := recvOutbound(t, a)
	if active.Type != signaling.TypeStreamStatus || active.Status != "active" {
		t.Fatalf("expected stream-status active, got %+v", active)
	}
	stopped := recvOutbound(t, a)
	if stopped.Type != signaling.TypeStreamStatus || stopped.Status != "stopped" {
		t.Fatalf("expected stream-status stopped, got %+v", stopped)
	}

	send(t, a, signaling.Inbound{Type: signaling.TypeStreamChunk, Chunk: base64.StdEncoding.EncodeToString([]byte("x"))})
	rejected := recvOutbound(t, a)
	if rejected.Type != signaling.TypeError {
		t.Fatalf("expected stream-chunk after stop-stream to be rejected, got %+v", rejected)
	}
}
