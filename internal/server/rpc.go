package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"connectrpc.com/connect"

	"tinysync/internal/db"
	"tinysync/internal/rooms"
)

const roomServiceName = "tinysync.v1.RoomService"

const (
	createRoomProcedure = "/" + roomServiceName + "/CreateRoom"
	joinRoomProcedure   = "/" + roomServiceName + "/JoinRoom"
	leaveRoomProcedure  = "/" + roomServiceName + "/LeaveRoom"
	startGameProcedure  = "/" + roomServiceName + "/StartGame"
	getRoomProcedure    = "/" + roomServiceName + "/GetRoom"
)

// jsonCodec lets the room service speak plain JSON with snake_case field
// names instead of generated protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type CreateRoomRequest struct {
	PlayerID   int32 `json:"player_id"`
	MaxPlayers int32 `json:"max_players"`
}

// RoomRequest is the body of join, leave and start requests.
type RoomRequest struct {
	PlayerID int32 `json:"player_id"`
	RoomID   int32 `json:"room_id"`
}

type RoomResponse struct {
	PlayerID int32  `json:"player_id"`
	RoomID   int32  `json:"room_id"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
}

type GetRoomRequest struct {
	RoomID int32 `json:"room_id"`
}

// GetRoomResponse carries a live room ("memory") or, once the room is gone,
// its archived record ("archive").
type GetRoomResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Source  string    `json:"source,omitempty"`
	Room    *RoomInfo `json:"room,omitempty"`
}

type RoomInfo struct {
	RoomID       int32            `json:"room_id"`
	OwnerID      int32            `json:"owner_id"`
	MaxPlayers   int32            `json:"max_players"`
	TickRate     int              `json:"tick_rate"`
	Phase        string           `json:"phase"`
	Frame        uint32           `json:"frame"`
	Members      []int32          `json:"members"`
	SyncedFrames map[int32]uint32 `json:"synced_frames"`
	DisposedAt   *time.Time       `json:"disposed_at,omitempty"`
}

func roomInfo(s rooms.Snapshot) *RoomInfo {
	return &RoomInfo{
		RoomID:       s.ID,
		OwnerID:      s.OwnerID,
		MaxPlayers:   s.MaxPlayers,
		TickRate:     s.TickRate,
		Phase:        s.Phase.String(),
		Frame:        s.Frame,
		Members:      s.Members,
		SyncedFrames: s.SyncedFrames,
	}
}

// registerRoomService mounts the room service under its Connect procedure
// paths and under the /api/room paths older clients post JSON to.
func (s *Server) registerRoomService(mux *http.ServeMux) {
	codec := connect.WithCodec(jsonCodec{})
	routes := []struct {
		procedure string
		alias     string
		handler   http.Handler
	}{
		{createRoomProcedure, "/api/room/create", connect.NewUnaryHandler(createRoomProcedure, s.CreateRoom, codec)},
		{joinRoomProcedure, "/api/room/join", connect.NewUnaryHandler(joinRoomProcedure, s.JoinRoom, codec)},
		{leaveRoomProcedure, "/api/room/leave", connect.NewUnaryHandler(leaveRoomProcedure, s.LeaveRoom, codec)},
		{startGameProcedure, "/api/room/start", connect.NewUnaryHandler(startGameProcedure, s.StartGame, codec)},
		{getRoomProcedure, "/api/room/get", connect.NewUnaryHandler(getRoomProcedure, s.GetRoom, codec)},
	}
	for _, rt := range routes {
		mux.Handle(rt.procedure, rt.handler)
		mux.Handle(rt.alias, rt.handler)
	}
}

func (s *Server) CreateRoom(ctx context.Context, req *connect.Request[CreateRoomRequest]) (*connect.Response[RoomResponse], error) {
	log.Printf("[Server] player=%d requests create room\n", req.Msg.PlayerID)
	id, err := s.Registry.CreateRoom(req.Msg.PlayerID, req.Msg.MaxPlayers)
	resp := &RoomResponse{PlayerID: req.Msg.PlayerID, RoomID: id, Success: err == nil}
	if err != nil {
		resp.Message = err.Error()
	} else {
		resp.Message = fmt.Sprintf("create room[%d] success", id)
	}
	return connect.NewResponse(resp), nil
}

func (s *Server) JoinRoom(ctx context.Context, req *connect.Request[RoomRequest]) (*connect.Response[RoomResponse], error) {
	log.Printf("[Server] player=%d requests join room=%d\n", req.Msg.PlayerID, req.Msg.RoomID)
	err := s.Registry.JoinRoom(req.Msg.PlayerID, req.Msg.RoomID)
	return roomResult(req.Msg, err, "join room[%d] success"), nil
}

func (s *Server) LeaveRoom(ctx context.Context, req *connect.Request[RoomRequest]) (*connect.Response[RoomResponse], error) {
	log.Printf("[Server] player=%d requests leave room=%d\n", req.Msg.PlayerID, req.Msg.RoomID)
	err := s.Registry.LeaveRoom(req.Msg.PlayerID, req.Msg.RoomID)
	return roomResult(req.Msg, err, "leave room[%d] success"), nil
}

func (s *Server) StartGame(ctx context.Context, req *connect.Request[RoomRequest]) (*connect.Response[RoomResponse], error) {
	log.Printf("[Server] player=%d requests start game in room=%d\n", req.Msg.PlayerID, req.Msg.RoomID)
	err := s.Registry.StartGame(req.Msg.PlayerID, req.Msg.RoomID)
	return roomResult(req.Msg, err, "start game in room[%d] success"), nil
}

func (s *Server) GetRoom(ctx context.Context, req *connect.Request[GetRoomRequest]) (*connect.Response[GetRoomResponse], error) {
	if room, ok := s.Registry.Room(req.Msg.RoomID); ok {
		return connect.NewResponse(&GetRoomResponse{
			Success: true,
			Source:  "memory",
			Room:    roomInfo(room.Snapshot()),
		}), nil
	}
	if s.DB != nil {
		rec, err := s.DB.GetRoom(s.ServerID, req.Msg.RoomID)
		if err == nil {
			return connect.NewResponse(&GetRoomResponse{
				Success: true,
				Source:  "archive",
				Room:    archivedRoomInfo(rec),
			}), nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("[DB] GetRoom error: %v\n", err)
		}
	}
	return connect.NewResponse(&GetRoomResponse{
		Message: fmt.Sprintf("%v: room %d", rooms.ErrRoomNotFound, req.Msg.RoomID),
	}), nil
}

// archivedRoomInfo describes a room that is no longer live. Members and
// frame progress are not archived.
func archivedRoomInfo(rec *db.RoomRecord) *RoomInfo {
	return &RoomInfo{
		RoomID:       rec.RoomID,
		OwnerID:      rec.OwnerID,
		MaxPlayers:   rec.MaxPlayers,
		TickRate:     rec.TickRate,
		Phase:        rooms.Disposed.String(),
		Members:      []int32{},
		SyncedFrames: map[int32]uint32{},
		DisposedAt:   rec.DisposedAt,
	}
}

func roomResult(req *RoomRequest, err error, okFormat string) *connect.Response[RoomResponse] {
	resp := &RoomResponse{PlayerID: req.PlayerID, RoomID: req.RoomID, Success: err == nil}
	if err != nil {
		resp.Message = err.Error()
	} else {
		resp.Message = fmt.Sprintf(okFormat, req.RoomID)
	}
	return connect.NewResponse(resp)
}
