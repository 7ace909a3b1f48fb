package rooms

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"tinysync/internal/broadcast"
	"tinysync/internal/players"
	"tinysync/internal/protocol"
)

var (
	ErrAlreadyInRoom     = errors.New("already in a room")
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room is full")
	ErrNotConnected      = errors.New("no realtime connection, connect to the realtime server first")
	ErrNotInAnyRoom      = errors.New("not in any room")
	ErrWrongRoom         = errors.New("not in that room")
	ErrNotMember         = errors.New("not a member of the room")
	ErrNotOwner          = errors.New("not the room owner")
	ErrInvalidMaxPlayers = errors.New("max players must be at least 1")
)

// Registry owns every live room, the player to room index and the player
// to connection index.
type Registry struct {
	mu      sync.Mutex
	ctx     context.Context
	rooms   map[int32]*Room
	belongs map[int32]*Room
	conns   *players.Store
	lastID  int32
	cfg     Config
}

// NewRegistry creates an empty registry. Every room tick loop stops when
// ctx is cancelled.
func NewRegistry(ctx context.Context, cfg Config, conns *players.Store) *Registry {
	if conns == nil {
		conns = players.NewStore()
	}
	return &Registry{
		ctx:     ctx,
		rooms:   make(map[int32]*Room),
		belongs: make(map[int32]*Room),
		conns:   conns,
		cfg:     cfg.withDefaults(),
	}
}

// CreateRoom makes playerID the owner and sole member of a new room. When
// the player already belongs to a room, that room's id is returned along
// with ErrAlreadyInRoom.
func (g *Registry) CreateRoom(playerID, maxPlayers int32) (int32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if room, ok := g.belongs[playerID]; ok {
		log.Printf("[Registry] player=%d already in room=%d\n", playerID, room.ID)
		return room.ID, fmt.Errorf("%w: room %d", ErrAlreadyInRoom, room.ID)
	}
	if maxPlayers < 1 {
		return 0, ErrInvalidMaxPlayers
	}
	conn, ok := g.conns.Get(playerID)
	if !ok {
		log.Printf("[Registry] player=%d has no connection\n", playerID)
		return 0, ErrNotConnected
	}

	g.lastID++
	room := newRoom(g.ctx, g.lastID, playerID, maxPlayers, g.cfg)
	g.rooms[room.ID] = room
	room.AddOrUpdateMember(playerID, conn)
	g.belongs[playerID] = room
	g.cfg.Metrics.RoomsActive(len(g.rooms))

	log.Printf("[Registry] player=%d created room=%d max=%d\n", playerID, room.ID, maxPlayers)
	return room.ID, nil
}

func (g *Registry) JoinRoom(playerID, roomID int32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if room, ok := g.belongs[playerID]; ok {
		log.Printf("[Registry] player=%d already in room=%d\n", playerID, room.ID)
		return fmt.Errorf("%w: room %d", ErrAlreadyInRoom, room.ID)
	}
	room, ok := g.rooms[roomID]
	if !ok {
		return fmt.Errorf("%w: room %d", ErrRoomNotFound, roomID)
	}
	conn, ok := g.conns.Get(playerID)
	if !ok {
		log.Printf("[Registry] player=%d has no connection\n", playerID)
		return ErrNotConnected
	}
	if room.IsFull() {
		return fmt.Errorf("%w: room %d", ErrRoomFull, roomID)
	}

	room.AddOrUpdateMember(playerID, conn)
	g.belongs[playerID] = room
	log.Printf("[Registry] player=%d joined room=%d\n", playerID, roomID)
	return nil
}

// LeaveRoom removes playerID from roomID and disposes the room once it is
// empty. Disposed room ids are never handed out again.
func (g *Registry) LeaveRoom(playerID, roomID int32) error {
	g.mu.Lock()
	room, ok := g.belongs[playerID]
	if !ok {
		g.mu.Unlock()
		return ErrNotInAnyRoom
	}
	if room.ID != roomID {
		g.mu.Unlock()
		return fmt.Errorf("%w: room %d", ErrWrongRoom, roomID)
	}

	room.RemoveMember(playerID)
	delete(g.belongs, playerID)
	empty := room.IsEmpty()
	if empty {
		delete(g.rooms, room.ID)
		g.cfg.Metrics.RoomsActive(len(g.rooms))
	}
	g.mu.Unlock()

	if empty {
		room.Dispose()
	}
	log.Printf("[Registry] player=%d left room=%d\n", playerID, roomID)
	return nil
}

// StartGame is only allowed for the room owner.
func (g *Registry) StartGame(playerID, roomID int32) error {
	g.mu.Lock()
	room, ok := g.rooms[roomID]
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: room %d", ErrRoomNotFound, roomID)
	}
	if !room.IsMember(playerID) {
		return fmt.Errorf("%w: room %d", ErrNotMember, roomID)
	}
	if !room.IsOwner(playerID) {
		return fmt.Errorf("%w: room %d", ErrNotOwner, roomID)
	}

	room.StartGame()
	log.Printf("[Registry] player=%d started game in room=%d\n", playerID, roomID)
	return nil
}

// RouteRoomMessage hands msg to its room. Messages for unknown rooms are
// dropped; it reports whether a room took the message.
func (g *Registry) RouteRoomMessage(msg protocol.RoomMessage) bool {
	g.mu.Lock()
	room, ok := g.rooms[msg.RoomID]
	g.mu.Unlock()

	if !ok {
		log.Printf("[Registry] room=%d not found, dropping %s\n", msg.RoomID, msg.Type)
		return false
	}
	room.OnMessage(msg)
	return true
}

// BindConnection associates conn with playerID. A player who is already in
// a room gets the new connection there as well.
func (g *Registry) BindConnection(playerID int32, conn broadcast.Sender) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.conns.Bind(playerID, conn)
	if room, ok := g.belongs[playerID]; ok {
		room.Rebind(playerID, conn)
		log.Printf("[Registry] player=%d reconnected to room=%d\n", playerID, room.ID)
		return
	}
	log.Printf("[Registry] player=%d bound\n", playerID)
}

// UnbindConnection forgets every player bound to conn. Room membership is
// kept; the players receive default input until they leave.
func (g *Registry) UnbindConnection(conn broadcast.Sender) []int32 {
	ids := g.conns.Unbind(conn)
	for _, id := range ids {
		log.Printf("[Registry] player=%d unbound\n", id)
	}
	return ids
}

func (g *Registry) Room(roomID int32) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[roomID]
	return room, ok
}

// RoomOf returns the room playerID belongs to.
func (g *Registry) RoomOf(playerID int32) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.belongs[playerID]
	return room, ok
}

func (g *Registry) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Close disposes every room and waits for their tick loops to stop.
func (g *Registry) Close() {
	g.mu.Lock()
	list := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		list = append(list, room)
	}
	clear(g.rooms)
	clear(g.belongs)
	g.cfg.Metrics.RoomsActive(0)
	g.mu.Unlock()

	for _, room := range list {
		room.Dispose()
	}
}
