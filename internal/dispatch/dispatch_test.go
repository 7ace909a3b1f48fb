package dispatch

import (
	"bytes"
	"testing"

	"tinysync/internal/broadcast"
	"tinysync/internal/protocol"
)

type fakeConn struct{}

func (*fakeConn) Deliver([]byte, broadcast.Delivery) bool { return true }

type binding struct {
	playerID int32
	conn     broadcast.Sender
}

type fakeRouter struct {
	bound    []binding
	unbound  []broadcast.Sender
	messages []protocol.RoomMessage
}

func (r *fakeRouter) BindConnection(playerID int32, conn broadcast.Sender) {
	r.bound = append(r.bound, binding{playerID, conn})
}

func (r *fakeRouter) UnbindConnection(conn broadcast.Sender) []int32 {
	r.unbound = append(r.unbound, conn)
	return nil
}

func (r *fakeRouter) RouteRoomMessage(msg protocol.RoomMessage) bool {
	r.messages = append(r.messages, msg)
	return true
}

type countingMetrics map[string]int

func (m countingMetrics) DecodeFailure(stage string) { m[stage]++ }

func TestHelloBindsConnection(t *testing.T) {
	router := &fakeRouter{}
	d := New(router, nil)
	conn := &fakeConn{}

	packet, err := protocol.NewHelloPacket(7)
	if err != nil {
		t.Fatal(err)
	}
	d.HandlePacket(conn, packet)

	if len(router.bound) != 1 {
		t.Fatalf("bound %d players, want 1", len(router.bound))
	}
	if b := router.bound[0]; b.playerID != 7 || b.conn != conn {
		t.Errorf("binding = %+v, want player 7 on conn", b)
	}
}

func TestRoomMessageRouted(t *testing.T) {
	router := &fakeRouter{}
	d := New(router, nil)

	packet, err := protocol.EncodeRoomPacket(3, protocol.PlayerInputMsg, []byte{0x08, 0x02})
	if err != nil {
		t.Fatal(err)
	}
	d.HandlePacket(&fakeConn{}, packet)

	if len(router.messages) != 1 {
		t.Fatalf("routed %d messages, want 1", len(router.messages))
	}
	msg := router.messages[0]
	if msg.RoomID != 3 || msg.Type != protocol.PlayerInputMsg || !bytes.Equal(msg.Payload, []byte{0x08, 0x02}) {
		t.Errorf("routed = %+v, want room 3 PlayerInput", msg)
	}
}

func TestMalformedPacketsDropped(t *testing.T) {
	router := &fakeRouter{}
	metrics := countingMetrics{}
	d := New(router, metrics)

	d.HandlePacket(&fakeConn{}, []byte{1, 0})
	d.HandlePacket(&fakeConn{}, protocol.EncodePacket(protocol.RoomMsg, []byte{0x0a, 0x05}))
	d.HandlePacket(&fakeConn{}, protocol.EncodePacket(protocol.MsgType(9), nil))

	if len(router.messages) != 0 || len(router.bound) != 0 {
		t.Errorf("malformed packets reached the router: %+v", router)
	}
	if metrics["envelope"] != 1 {
		t.Errorf("envelope failures = %d, want 1", metrics["envelope"])
	}
	if metrics["room_message"] != 1 {
		t.Errorf("room_message failures = %d, want 1", metrics["room_message"])
	}
	if metrics["kind"] != 1 {
		t.Errorf("kind failures = %d, want 1", metrics["kind"])
	}
}

func TestUnknownServerMessageDropped(t *testing.T) {
	router := &fakeRouter{}
	metrics := countingMetrics{}
	d := New(router, metrics)

	msg := protocol.ServerMessage{Type: protocol.ServerMsgType(5)}
	payload, err := msg.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	d.HandlePacket(&fakeConn{}, protocol.EncodePacket(protocol.ServerMsg, payload))

	if len(router.bound) != 0 {
		t.Errorf("bound %d players, want 0", len(router.bound))
	}
	if metrics["server_message"] != 1 {
		t.Errorf("server_message failures = %d, want 1", metrics["server_message"])
	}
}

func TestDisconnectUnbinds(t *testing.T) {
	router := &fakeRouter{}
	d := New(router, nil)
	conn := &fakeConn{}

	d.HandleDisconnect(conn)

	if len(router.unbound) != 1 || router.unbound[0] != conn {
		t.Errorf("unbound = %v, want [conn]", router.unbound)
	}
}
