package wshub

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"tinysync/internal/broadcast"
)

// echoHandler sends every packet straight back and reports disconnects.
type echoHandler struct {
	packets     chan []byte
	disconnects chan string
}

func newEchoHandler() *echoHandler {
	return &echoHandler{
		packets:     make(chan []byte, 16),
		disconnects: make(chan string, 4),
	}
}

func (h *echoHandler) HandlePacket(conn broadcast.Sender, data []byte) {
	h.packets <- data
	conn.Deliver(data, broadcast.ReliableOrdered)
}

func (h *echoHandler) HandleDisconnect(conn broadcast.Sender) {
	h.disconnects <- conn.(*Client).ID
}

func TestDeliverReliableClosesWhenFull(t *testing.T) {
	c := NewClient(nil, 1)

	if !c.Deliver([]byte("a"), broadcast.ReliableOrdered) {
		t.Fatal("first Deliver = false, want true")
	}
	if c.Deliver([]byte("b"), broadcast.ReliableOrdered) {
		t.Error("Deliver on full queue = true, want false")
	}
	if !c.Closed() {
		t.Error("client still open after reliable overflow")
	}
	if c.Deliver([]byte("c"), broadcast.Unreliable) {
		t.Error("Deliver after close = true, want false")
	}
}

func TestDeliverUnreliableDropsWhenFull(t *testing.T) {
	c := NewClient(nil, 1)
	c.Deliver([]byte("filler"), broadcast.Unreliable)

	if c.Deliver([]byte("dropped"), broadcast.Unreliable) {
		t.Error("Deliver on full queue = true, want false")
	}
	if c.Closed() {
		t.Error("unreliable overflow closed the client")
	}
	if got := <-c.Send; string(got) != "filler" {
		t.Errorf("queued = %q, want filler", got)
	}
}

func TestDeliverAfterCloseQueuesNothing(t *testing.T) {
	c := NewClient(nil, 4)
	c.Close()

	if c.Deliver([]byte("late"), broadcast.ReliableOrdered) {
		t.Error("Deliver after Close = true, want false")
	}
	if len(c.Send) != 0 {
		t.Errorf("queued %d packets after Close, want 0", len(c.Send))
	}
}

func TestRegisterAndUnregister(t *testing.T) {
	h := NewHub("k", 4, newEchoHandler(), nil)
	c1 := NewClient(nil, 4)
	c2 := NewClient(nil, 4)

	h.Register(c1)
	h.Register(c2)
	if h.Count() != 2 {
		t.Errorf("Count() = %d, want 2", h.Count())
	}

	h.Unregister(c1.ID)
	if h.Count() != 1 {
		t.Errorf("Count() = %d, want 1", h.Count())
	}
	if !c1.Closed() {
		t.Error("unregistered client still open")
	}
	// Should not panic
	h.Unregister("nonexistent")

	h.Close()
	if !c2.Closed() {
		t.Error("Close() left a client open")
	}
}

func TestServeRejectsBadKey(t *testing.T) {
	srv := httptest.NewServer(NewHub("secret", 4, newEchoHandler(), nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, srv.URL+"?key=wrong", nil)
	if err == nil {
		t.Fatal("Dial with wrong key succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestServeEchoAndDisconnect(t *testing.T) {
	handler := newEchoHandler()
	hub := NewHub("secret", 4, handler, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{"X-Connection-Key": []string{"secret"}},
	})
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}

	packet := []byte{1, 0, 0, 0, 42}
	if err := conn.Write(ctx, websocket.MessageBinary, packet); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	select {
	case got := <-handler.packets:
		if !bytes.Equal(got, packet) {
			t.Errorf("handler got %v, want %v", got, packet)
		}
	case <-ctx.Done():
		t.Fatal("handler never received the packet")
	}

	typ, echoed, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if typ != websocket.MessageBinary || !bytes.Equal(echoed, packet) {
		t.Errorf("echo = %v %v, want binary %v", typ, echoed, packet)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	select {
	case <-handler.disconnects:
	case <-ctx.Done():
		t.Fatal("HandleDisconnect never called")
	}
	if hub.Count() != 0 {
		t.Errorf("Count() = %d after disconnect, want 0", hub.Count())
	}
}
