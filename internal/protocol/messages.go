// Package protocol defines the realtime wire format: a packet envelope
// carrying a message kind, and the protobuf-wire encoded messages that
// travel inside it.
package protocol

// MsgType is the first field of every packet.
type MsgType int32

const (
	ServerMsg MsgType = iota
	RoomMsg
)

func (t MsgType) String() string {
	switch t {
	case ServerMsg:
		return "ServerMsg"
	case RoomMsg:
		return "RoomMsg"
	}
	return "MsgType(unknown)"
}

type ServerMsgType int32

const (
	// HelloServer carries the player id a client claims right after connecting.
	HelloServer ServerMsgType = iota
)

type RoomMsgType int32

const (
	MemberUpdate RoomMsgType = iota
	StartGame
	LoadSceneDone
	StartFrameSync
	PlayerInputMsg
	SyncFrame
)

func (t RoomMsgType) String() string {
	switch t {
	case MemberUpdate:
		return "MemberUpdate"
	case StartGame:
		return "StartGame"
	case LoadSceneDone:
		return "LoadSceneDone"
	case StartFrameSync:
		return "StartFrameSync"
	case PlayerInputMsg:
		return "PlayerInput"
	case SyncFrame:
		return "SyncFrame"
	}
	return "RoomMsgType(unknown)"
}

// NoCommand is the command code used for input the server fills in for a
// player who sent nothing for a frame.
const NoCommand int32 = -1

// ServerMessage is a server-scoped message. Payload depends on Type.
type ServerMessage struct {
	Type    ServerMsgType
	Payload []byte
}

type Hello struct {
	PlayerID int32
}

// RoomMessage is a room-scoped message. Payload depends on Type.
type RoomMessage struct {
	RoomID  int32
	Type    RoomMsgType
	Payload []byte
}

type RoomMemberUpdate struct {
	RoomID     int32
	MaxPlayers int32
	OwnerID    int32
	MemberIDs  []int32
}

type SceneLoaded struct {
	PlayerID int32
}

// PlayerInput is one player's contribution to one frame.
type PlayerInput struct {
	PlayerID    int32
	SyncedFrame uint32 // last frame the client had received
	TargetFrame uint32
	Cmd         int32
	Arg         []byte
}

// FramePackage is the broadcast unit: one input per member for a frame.
type FramePackage struct {
	RoomID int32
	Frame  uint32
	Inputs []PlayerInput
}

// DefaultInput is the input substituted for a player with nothing queued.
func DefaultInput(playerID int32, frame uint32) PlayerInput {
	return PlayerInput{
		PlayerID:    playerID,
		TargetFrame: frame,
		Cmd:         NoCommand,
		Arg:         []byte{},
	}
}
