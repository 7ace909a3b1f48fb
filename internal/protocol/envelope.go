package protocol

import (
	"encoding"
	"encoding/binary"
	"fmt"
)

// headerSize is the length of the little-endian message kind that
// prefixes every packet.
const headerSize = 4

// EncodePacket prefixes payload with its message kind.
func EncodePacket(kind MsgType, payload []byte) []byte {
	out := make([]byte, headerSize, headerSize+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(kind))
	return append(out, payload...)
}

// DecodePacket splits a packet into its message kind and payload. The
// payload aliases data.
func DecodePacket(data []byte) (MsgType, []byte, error) {
	if len(data) < headerSize {
		return 0, nil, fmt.Errorf("%w: packet of %d bytes has no header", ErrMalformed, len(data))
	}
	kind := MsgType(int32(binary.LittleEndian.Uint32(data)))
	return kind, data[headerSize:], nil
}

// NewRoomPacket encodes body as a room message of the given type and wraps
// it in a packet. A nil body sends an empty payload.
func NewRoomPacket(roomID int32, typ RoomMsgType, body encoding.BinaryMarshaler) ([]byte, error) {
	var payload []byte
	if body != nil {
		b, err := body.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", typ, err)
		}
		payload = b
	}
	return EncodeRoomPacket(roomID, typ, payload)
}

// EncodeRoomPacket wraps an already encoded room payload in a packet.
func EncodeRoomPacket(roomID int32, typ RoomMsgType, payload []byte) ([]byte, error) {
	msg := RoomMessage{RoomID: roomID, Type: typ, Payload: payload}
	b, err := msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding room message: %w", err)
	}
	return EncodePacket(RoomMsg, b), nil
}

// NewHelloPacket builds the handshake a client sends after connecting.
func NewHelloPacket(playerID int32) ([]byte, error) {
	hello := Hello{PlayerID: playerID}
	payload, err := hello.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding hello: %w", err)
	}
	msg := ServerMessage{Type: HelloServer, Payload: payload}
	b, err := msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding server message: %w", err)
	}
	return EncodePacket(ServerMsg, b), nil
}
