package rooms

import (
	"context"
	"sync"
	"testing"

	"tinysync/internal/broadcast"
	"tinysync/internal/protocol"
)

// fakeConn records every packet delivered to it.
type fakeConn struct {
	mu      sync.Mutex
	packets [][]byte
}

func (c *fakeConn) Deliver(data []byte, mode broadcast.Delivery) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets = append(c.packets, data)
	return true
}

func (c *fakeConn) raw() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.packets))
	copy(out, c.packets)
	return out
}

func (c *fakeConn) messages(t *testing.T) []protocol.RoomMessage {
	t.Helper()
	var out []protocol.RoomMessage
	for _, p := range c.raw() {
		kind, payload, err := protocol.DecodePacket(p)
		if err != nil {
			t.Fatalf("DecodePacket() error: %v", err)
		}
		if kind != protocol.RoomMsg {
			t.Fatalf("kind = %v, want RoomMsg", kind)
		}
		var msg protocol.RoomMessage
		if err := msg.UnmarshalBinary(payload); err != nil {
			t.Fatalf("RoomMessage.UnmarshalBinary() error: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func (c *fakeConn) count(t *testing.T, typ protocol.RoomMsgType) int {
	t.Helper()
	n := 0
	for _, m := range c.messages(t) {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (c *fakeConn) rosters(t *testing.T) []protocol.RoomMemberUpdate {
	t.Helper()
	var out []protocol.RoomMemberUpdate
	for _, m := range c.messages(t) {
		if m.Type != protocol.MemberUpdate {
			continue
		}
		var u protocol.RoomMemberUpdate
		if err := u.UnmarshalBinary(m.Payload); err != nil {
			t.Fatalf("RoomMemberUpdate.UnmarshalBinary() error: %v", err)
		}
		out = append(out, u)
	}
	return out
}

func (c *fakeConn) frames(t *testing.T) []protocol.FramePackage {
	t.Helper()
	var out []protocol.FramePackage
	for _, m := range c.messages(t) {
		if m.Type != protocol.SyncFrame {
			continue
		}
		var pkg protocol.FramePackage
		if err := pkg.UnmarshalBinary(m.Payload); err != nil {
			t.Fatalf("FramePackage.UnmarshalBinary() error: %v", err)
		}
		out = append(out, pkg)
	}
	return out
}

// countingMetrics tallies the room counters tests care about.
type countingMetrics struct {
	mu       sync.Mutex
	stale    int
	rejected int
	decode   map[string]int
}

func (m *countingMetrics) RoomsActive(int)         {}
func (m *countingMetrics) FrameBroadcast(int, int) {}
func (m *countingMetrics) ArchiveDropped()         {}

func (m *countingMetrics) StaleInput() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale++
}

func (m *countingMetrics) InputBeyondHorizon() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected++
}

func (m *countingMetrics) DecodeFailure(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decode == nil {
		m.decode = make(map[string]int)
	}
	m.decode[stage]++
}

func (m *countingMetrics) decodeFailures(stage string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decode[stage]
}

func testConfig() Config {
	return Config{
		TickRate:      30,
		HistoryFrames: 64,
	}
}

// stoppedContext returns a cancelled context. Rooms built on it enter
// frame sync normally but their tick loop exits at once, so tests drive
// ticks by hand.
func stoppedContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// newManualRoom builds a room whose ticks are driven by the test. The
// first id is the owner.
func newManualRoom(t *testing.T, cfg Config, ids ...int32) (*Room, map[int32]*fakeConn) {
	t.Helper()
	cfg.TickRate = 1
	r := newRoom(stoppedContext(), 1, ids[0], 4, cfg)
	conns := make(map[int32]*fakeConn, len(ids))
	for _, id := range ids {
		conns[id] = &fakeConn{}
		r.AddOrUpdateMember(id, conns[id])
	}
	t.Cleanup(r.Dispose)
	return r, conns
}

func sendInput(t *testing.T, r *Room, in protocol.PlayerInput) {
	t.Helper()
	payload, err := in.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	r.OnMessage(protocol.RoomMessage{RoomID: r.ID, Type: protocol.PlayerInputMsg, Payload: payload})
}

func sendSceneLoaded(t *testing.T, r *Room, playerID int32) {
	t.Helper()
	done := protocol.SceneLoaded{PlayerID: playerID}
	payload, err := done.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	r.OnMessage(protocol.RoomMessage{RoomID: r.ID, Type: protocol.LoadSceneDone, Payload: payload})
}

func inputFor(t *testing.T, pkg protocol.FramePackage, playerID int32) protocol.PlayerInput {
	t.Helper()
	for _, in := range pkg.Inputs {
		if in.PlayerID == playerID {
			return in
		}
	}
	t.Fatalf("frame %d has no input for player %d", pkg.Frame, playerID)
	return protocol.PlayerInput{}
}
