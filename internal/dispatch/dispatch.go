// Package dispatch demultiplexes realtime packets to the room registry.
package dispatch

import (
	"log"

	"tinysync/internal/broadcast"
	"tinysync/internal/protocol"
)

// Router is the part of the room registry the dispatcher drives.
type Router interface {
	BindConnection(playerID int32, conn broadcast.Sender)
	UnbindConnection(conn broadcast.Sender) []int32
	RouteRoomMessage(msg protocol.RoomMessage) bool
}

type Metrics interface {
	DecodeFailure(stage string)
}

type nopMetrics struct{}

func (nopMetrics) DecodeFailure(string) {}

type Dispatcher struct {
	router  Router
	metrics Metrics
}

func New(router Router, metrics Metrics) *Dispatcher {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Dispatcher{router: router, metrics: metrics}
}

// HandlePacket decodes one packet from conn and forwards it. Anything that
// fails to decode is logged and dropped.
func (d *Dispatcher) HandlePacket(conn broadcast.Sender, data []byte) {
	kind, payload, err := protocol.DecodePacket(data)
	if err != nil {
		d.drop("envelope", err)
		return
	}

	switch kind {
	case protocol.ServerMsg:
		d.handleServerMessage(conn, payload)
	case protocol.RoomMsg:
		var msg protocol.RoomMessage
		if err := msg.UnmarshalBinary(payload); err != nil {
			d.drop("room_message", err)
			return
		}
		d.router.RouteRoomMessage(msg)
	default:
		log.Printf("[Dispatch] unknown message kind %d, dropping\n", int32(kind))
		d.metrics.DecodeFailure("kind")
	}
}

func (d *Dispatcher) handleServerMessage(conn broadcast.Sender, payload []byte) {
	var msg protocol.ServerMessage
	if err := msg.UnmarshalBinary(payload); err != nil {
		d.drop("server_message", err)
		return
	}
	switch msg.Type {
	case protocol.HelloServer:
		var hello protocol.Hello
		if err := hello.UnmarshalBinary(msg.Payload); err != nil {
			d.drop("hello", err)
			return
		}
		d.router.BindConnection(hello.PlayerID, conn)
	default:
		log.Printf("[Dispatch] unknown server message type %d, dropping\n", int32(msg.Type))
		d.metrics.DecodeFailure("server_message")
	}
}

// HandleDisconnect forgets every player bound to conn.
func (d *Dispatcher) HandleDisconnect(conn broadcast.Sender) {
	d.router.UnbindConnection(conn)
}

func (d *Dispatcher) drop(stage string, err error) {
	log.Printf("[Dispatch] %s decode failed: %v\n", stage, err)
	d.metrics.DecodeFailure(stage)
}
