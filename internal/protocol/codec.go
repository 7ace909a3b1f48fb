package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when a payload cannot be decoded.
var ErrMalformed = errors.New("malformed message")

// encoder appends fields in protobuf wire format. Zero scalars are omitted.
type encoder struct {
	b []byte
}

func (e *encoder) uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *encoder) sint(num protowire.Number, v int32) {
	e.uint(num, protowire.EncodeZigZag(int64(v)))
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.message(num, v)
}

// message always emits the field so that empty elements of a repeated
// field keep their position.
func (e *encoder) message(num protowire.Number, v []byte) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *encoder) packedSints(num protowire.Number, vs []int32) {
	if len(vs) == 0 {
		return
	}
	var inner []byte
	for _, v := range vs {
		inner = protowire.AppendVarint(inner, protowire.EncodeZigZag(int64(v)))
	}
	e.message(num, inner)
}

type field struct {
	num  protowire.Number
	typ  protowire.Type
	u    uint64
	data []byte
}

func (f field) sint32() (int32, error) {
	if f.typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: field %d is not a varint", ErrMalformed, f.num)
	}
	return zigzag32(f.num, f.u)
}

// zigzag32 decodes a zig-zag varint that must fit in an int32.
func zigzag32(num protowire.Number, u uint64) (int32, error) {
	v := protowire.DecodeZigZag(u)
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: field %d overflows int32", ErrMalformed, num)
	}
	return int32(v), nil
}

func (f field) uint32() (uint32, error) {
	if f.typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: field %d is not a varint", ErrMalformed, f.num)
	}
	if f.u > math.MaxUint32 {
		return 0, fmt.Errorf("%w: field %d overflows uint32", ErrMalformed, f.num)
	}
	return uint32(f.u), nil
}

func (f field) raw() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("%w: field %d is not length-delimited", ErrMalformed, f.num)
	}
	return bytes.Clone(f.data), nil
}

func (f field) packedSints() ([]int32, error) {
	if f.typ == protowire.VarintType {
		v, err := f.sint32()
		return []int32{v}, err
	}
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("%w: field %d is not a packed list", ErrMalformed, f.num)
	}
	var out []int32
	b := f.data
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		id, err := zigzag32(f.num, v)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
		b = b[n:]
	}
	return out, nil
}

// parseFields walks b and calls fn for each varint or length-delimited
// field. Other wire types are skipped.
func parseFields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			f.u = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			f.data = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (m *ServerMessage) MarshalBinary() ([]byte, error) {
	var e encoder
	e.sint(1, int32(m.Type))
	e.bytes(2, m.Payload)
	return e.b, nil
}

func (m *ServerMessage) UnmarshalBinary(data []byte) error {
	*m = ServerMessage{}
	return parseFields(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var v int32
			v, err = f.sint32()
			m.Type = ServerMsgType(v)
		case 2:
			m.Payload, err = f.raw()
		}
		return err
	})
}

func (m *Hello) MarshalBinary() ([]byte, error) {
	var e encoder
	e.sint(1, m.PlayerID)
	return e.b, nil
}

func (m *Hello) UnmarshalBinary(data []byte) error {
	*m = Hello{}
	return parseFields(data, func(f field) error {
		var err error
		if f.num == 1 {
			m.PlayerID, err = f.sint32()
		}
		return err
	})
}

func (m *RoomMessage) MarshalBinary() ([]byte, error) {
	var e encoder
	e.sint(1, m.RoomID)
	e.sint(2, int32(m.Type))
	e.bytes(3, m.Payload)
	return e.b, nil
}

func (m *RoomMessage) UnmarshalBinary(data []byte) error {
	*m = RoomMessage{}
	return parseFields(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.RoomID, err = f.sint32()
		case 2:
			var v int32
			v, err = f.sint32()
			m.Type = RoomMsgType(v)
		case 3:
			m.Payload, err = f.raw()
		}
		return err
	})
}

func (m *RoomMemberUpdate) MarshalBinary() ([]byte, error) {
	var e encoder
	e.sint(1, m.RoomID)
	e.sint(2, m.MaxPlayers)
	e.sint(3, m.OwnerID)
	e.packedSints(4, m.MemberIDs)
	return e.b, nil
}

func (m *RoomMemberUpdate) UnmarshalBinary(data []byte) error {
	*m = RoomMemberUpdate{}
	return parseFields(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.RoomID, err = f.sint32()
		case 2:
			m.MaxPlayers, err = f.sint32()
		case 3:
			m.OwnerID, err = f.sint32()
		case 4:
			var ids []int32
			ids, err = f.packedSints()
			m.MemberIDs = append(m.MemberIDs, ids...)
		}
		return err
	})
}

func (m *SceneLoaded) MarshalBinary() ([]byte, error) {
	var e encoder
	e.sint(1, m.PlayerID)
	return e.b, nil
}

func (m *SceneLoaded) UnmarshalBinary(data []byte) error {
	*m = SceneLoaded{}
	return parseFields(data, func(f field) error {
		var err error
		if f.num == 1 {
			m.PlayerID, err = f.sint32()
		}
		return err
	})
}

func (m *PlayerInput) MarshalBinary() ([]byte, error) {
	var e encoder
	e.sint(1, m.PlayerID)
	e.uint(2, uint64(m.SyncedFrame))
	e.uint(3, uint64(m.TargetFrame))
	e.sint(4, m.Cmd)
	e.bytes(5, m.Arg)
	return e.b, nil
}

func (m *PlayerInput) UnmarshalBinary(data []byte) error {
	*m = PlayerInput{}
	err := parseFields(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.PlayerID, err = f.sint32()
		case 2:
			m.SyncedFrame, err = f.uint32()
		case 3:
			m.TargetFrame, err = f.uint32()
		case 4:
			m.Cmd, err = f.sint32()
		case 5:
			m.Arg, err = f.raw()
		}
		return err
	})
	if m.Arg == nil {
		m.Arg = []byte{}
	}
	return err
}

func (m *FramePackage) MarshalBinary() ([]byte, error) {
	var e encoder
	e.sint(1, m.RoomID)
	e.uint(2, uint64(m.Frame))
	for i := range m.Inputs {
		b, err := m.Inputs[i].MarshalBinary()
		if err != nil {
			return nil, err
		}
		e.message(3, b)
	}
	return e.b, nil
}

func (m *FramePackage) UnmarshalBinary(data []byte) error {
	*m = FramePackage{}
	return parseFields(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.RoomID, err = f.sint32()
		case 2:
			m.Frame, err = f.uint32()
		case 3:
			if f.typ != protowire.BytesType {
				return fmt.Errorf("%w: field %d is not a message", ErrMalformed, f.num)
			}
			var in PlayerInput
			if err = in.UnmarshalBinary(f.data); err == nil {
				m.Inputs = append(m.Inputs, in)
			}
		}
		return err
	})
}
