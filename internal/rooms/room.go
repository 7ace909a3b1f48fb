package rooms

import (
	"cmp"
	"context"
	"encoding"
	"log"
	"maps"
	"slices"
	"sync"
	"time"

	"tinysync/internal/broadcast"
	"tinysync/internal/events"
	"tinysync/internal/protocol"
)

// Room is one lockstep session. All mutable state is guarded by mu, which
// is shared by the network receive path and the room's own tick loop.
type Room struct {
	ID         int32
	MaxPlayers int32
	TickRate   int

	mu           sync.Mutex
	ownerID      int32
	phase        Phase
	members      *broadcast.Group
	frame        uint32
	sceneLoaded  map[int32]bool // only between StartGame and the barrier tripping
	syncedFrames map[int32]uint32
	pending      map[int32]protocol.PlayerInput
	future       map[uint32]map[int32]protocol.PlayerInput
	history      *History
	horizon      uint32

	ctx    context.Context // cancelled on disposal or process shutdown
	cancel context.CancelFunc
	done   chan struct{} // closed when the tick loop exits; nil until started

	archive *events.Bus
	metrics Metrics
}

func newRoom(ctx context.Context, id, ownerID, maxPlayers int32, cfg Config) *Room {
	cfg = cfg.withDefaults()
	r := &Room{
		ID:           id,
		MaxPlayers:   maxPlayers,
		TickRate:     cfg.TickRate,
		ownerID:      ownerID,
		phase:        Forming,
		members:      broadcast.NewGroup(),
		syncedFrames: make(map[int32]uint32),
		pending:      make(map[int32]protocol.PlayerInput),
		future:       make(map[uint32]map[int32]protocol.PlayerInput),
		history:      NewHistory(cfg.HistoryFrames),
		horizon:      cfg.InputHorizon,
		archive:      cfg.Archive,
		metrics:      cfg.Metrics,
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.publishLifecycle(events.RoomCreated)
	return r
}

// AddOrUpdateMember adds playerID and broadcasts the new roster. It is a
// no-op for an existing member.
func (r *Room) AddOrUpdateMember(playerID int32, conn broadcast.Sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == Disposed || !r.members.Add(playerID, conn) {
		return false
	}
	log.Printf("[Room] room=%d add player=%d count=%d\n", r.ID, playerID, r.members.Len())
	r.broadcastRosterLocked()
	return true
}

// RemoveMember removes playerID and broadcasts the new roster. Ownership
// passes to the longest-standing remaining member when the owner leaves.
func (r *Room) RemoveMember(playerID int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == Disposed || !r.members.Remove(playerID) {
		return false
	}
	delete(r.syncedFrames, playerID)
	delete(r.pending, playerID)
	if r.sceneLoaded != nil {
		delete(r.sceneLoaded, playerID)
	}

	ids := r.members.IDs()
	if playerID == r.ownerID && len(ids) > 0 {
		r.ownerID = ids[0]
		log.Printf("[Room] room=%d owner left, owner is now player=%d\n", r.ID, r.ownerID)
	}
	log.Printf("[Room] room=%d remove player=%d count=%d\n", r.ID, playerID, len(ids))
	r.broadcastRosterLocked()

	if len(ids) > 0 {
		r.checkSceneBarrierLocked()
	}
	return true
}

// Rebind swaps the connection of an existing member without a roster
// broadcast.
func (r *Room) Rebind(playerID int32, conn broadcast.Sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == Disposed {
		return false
	}
	return r.members.Replace(playerID, conn)
}

// StartGame notifies every member and resets their scene-load flags.
func (r *Room) StartGame() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == Disposed {
		return
	}
	r.sendLocked(protocol.StartGame, nil)

	r.sceneLoaded = make(map[int32]bool, r.members.Len())
	for _, id := range r.members.IDs() {
		r.sceneLoaded[id] = false
	}
	if r.phase == Forming {
		r.phase = GameStarted
	}
	log.Printf("[Room] room=%d start game, waiting for %d players\n", r.ID, len(r.sceneLoaded))
}

// OnMessage handles a room-scoped message from a client.
func (r *Room) OnMessage(msg protocol.RoomMessage) {
	switch msg.Type {
	case protocol.LoadSceneDone:
		var done protocol.SceneLoaded
		if err := done.UnmarshalBinary(msg.Payload); err != nil {
			log.Printf("[Room] room=%d dropping LoadSceneDone: %v\n", r.ID, err)
			r.metrics.DecodeFailure("scene_loaded")
			return
		}
		r.markSceneLoaded(done.PlayerID)
	case protocol.PlayerInputMsg:
		var in protocol.PlayerInput
		if err := in.UnmarshalBinary(msg.Payload); err != nil {
			log.Printf("[Room] room=%d dropping PlayerInput: %v\n", r.ID, err)
			r.metrics.DecodeFailure("player_input")
			return
		}
		r.handleInput(in)
	default:
		log.Printf("[Room] room=%d ignoring %s from client\n", r.ID, msg.Type)
	}
}

func (r *Room) markSceneLoaded(playerID int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == Disposed || !r.members.Has(playerID) {
		return
	}
	if r.sceneLoaded == nil {
		if r.phase == FrameSyncActive {
			return
		}
		r.sceneLoaded = make(map[int32]bool)
	}
	r.sceneLoaded[playerID] = true
	r.checkSceneBarrierLocked()
}

// checkSceneBarrierLocked starts frame sync once every current member has
// reported its scene loaded.
func (r *Room) checkSceneBarrierLocked() {
	if r.sceneLoaded == nil {
		return
	}
	ids := r.members.IDs()
	done := 0
	for _, id := range ids {
		if r.sceneLoaded[id] {
			done++
		}
	}
	log.Printf("[Room] room=%d scene loaded %d/%d\n", r.ID, done, len(ids))
	if done < len(ids) {
		return
	}
	r.sceneLoaded = nil
	r.startFrameSyncLocked()
}

func (r *Room) startFrameSyncLocked() {
	if r.phase == FrameSyncActive || r.phase == Disposed {
		return
	}
	r.phase = FrameSyncActive
	r.sendLocked(protocol.StartFrameSync, nil)
	r.publishLifecycle(events.RoomFrameSyncStarted)

	interval := time.Second / time.Duration(r.TickRate)
	r.done = make(chan struct{})
	go r.run(r.ctx, interval, r.done)
	log.Printf("[Room] room=%d frame sync started at %d ticks/s\n", r.ID, r.TickRate)
}

func (r *Room) handleInput(in protocol.PlayerInput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == Disposed || !r.members.Has(in.PlayerID) {
		return
	}
	r.syncedFrames[in.PlayerID] = in.SyncedFrame
	r.acceptInputLocked(in)
}

// acceptInputLocked files an input by its target frame: stale input is
// dropped, input for the current frame replaces any earlier one, and input
// for a later frame waits in the future buffer unless it lies past the
// input horizon.
func (r *Room) acceptInputLocked(in protocol.PlayerInput) {
	switch {
	case in.TargetFrame < r.frame:
		r.metrics.StaleInput()
	case in.TargetFrame == r.frame:
		r.pending[in.PlayerID] = in
	case r.horizon > 0 && in.TargetFrame-r.frame > r.horizon:
		r.metrics.InputBeyondHorizon()
	default:
		byPlayer, ok := r.future[in.TargetFrame]
		if !ok {
			byPlayer = make(map[int32]protocol.PlayerInput)
			r.future[in.TargetFrame] = byPlayer
		}
		byPlayer[in.PlayerID] = in
	}
}

// run fires one tick per interval until ctx is cancelled or the room is
// disposed. Deadlines advance by a fixed step so jitter does not drift the
// cadence; a stalled tick is followed by back-to-back ticks, never skips.
func (r *Room) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	next := time.Now().Add(interval)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !r.tick() {
			return
		}
		next = next.Add(interval)
		timer.Reset(time.Until(next))
	}
}

// tick assembles, broadcasts and records the current frame, then advances
// to the next one. It reports false once the room is disposed.
func (r *Room) tick() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == Disposed {
		return false
	}

	frame := r.frame
	buffered := r.future[frame]
	delete(r.future, frame)

	ids := r.members.IDs()
	inputs := make([]protocol.PlayerInput, 0, len(ids))
	defaulted, fromBuffer := 0, 0
	for _, id := range ids {
		in, ok := r.pending[id]
		if !ok {
			if in, ok = buffered[id]; ok {
				fromBuffer++
			} else {
				in = protocol.DefaultInput(id, frame)
				defaulted++
			}
		}
		inputs = append(inputs, in)
	}
	slices.SortFunc(inputs, func(a, b protocol.PlayerInput) int {
		return cmp.Compare(a.PlayerID, b.PlayerID)
	})

	pkg := protocol.FramePackage{RoomID: r.ID, Frame: frame, Inputs: inputs}
	payload, err := pkg.MarshalBinary()
	if err == nil {
		var packet []byte
		packet, err = protocol.EncodeRoomPacket(r.ID, protocol.SyncFrame, payload)
		if err == nil {
			r.members.Send(packet, broadcast.ReliableOrdered)
		}
	}
	if err != nil {
		log.Printf("[Room] room=%d frame=%d encode error: %v\n", r.ID, frame, err)
	}

	r.history.Push(pkg)
	clear(r.pending)
	r.frame++
	r.metrics.FrameBroadcast(defaulted, fromBuffer)

	if r.archive != nil && payload != nil {
		if !r.archive.PublishFrame(events.FrameCommitted{RoomID: r.ID, Frame: frame, Payload: payload, At: time.Now()}) {
			r.metrics.ArchiveDropped()
		}
	}
	return true
}

func (r *Room) broadcastRosterLocked() {
	update := &protocol.RoomMemberUpdate{
		RoomID:     r.ID,
		MaxPlayers: r.MaxPlayers,
		OwnerID:    r.ownerID,
		MemberIDs:  r.members.IDs(),
	}
	r.sendLocked(protocol.MemberUpdate, update)
}

func (r *Room) sendLocked(typ protocol.RoomMsgType, body encoding.BinaryMarshaler) {
	packet, err := protocol.NewRoomPacket(r.ID, typ, body)
	if err != nil {
		log.Printf("[Room] room=%d %s encode error: %v\n", r.ID, typ, err)
		return
	}
	r.members.Send(packet, broadcast.ReliableOrdered)
}

func (r *Room) publishLifecycle(kind events.LifecycleKind) {
	if r.archive == nil {
		return
	}
	ev := events.RoomLifecycle{
		Kind:       kind,
		RoomID:     r.ID,
		OwnerID:    r.ownerID,
		MaxPlayers: r.MaxPlayers,
		TickRate:   r.TickRate,
		At:         time.Now(),
	}
	if !r.archive.PublishLifecycle(ev) {
		r.metrics.ArchiveDropped()
	}
}

// Dispose stops the tick loop and releases every buffer. It waits for a
// running tick loop to exit.
func (r *Room) Dispose() {
	r.mu.Lock()
	if r.phase == Disposed {
		r.mu.Unlock()
		return
	}
	r.phase = Disposed
	r.cancel()
	done := r.done
	r.members.Clear()
	clear(r.pending)
	clear(r.future)
	clear(r.syncedFrames)
	r.sceneLoaded = nil
	r.history.Clear()
	r.publishLifecycle(events.RoomDisposed)
	r.mu.Unlock()

	if done != nil {
		<-done
	}
	log.Printf("[Room] room=%d disposed\n", r.ID)
}

func (r *Room) IsFull() bool {
	return r.members.Len() >= int(r.MaxPlayers)
}

func (r *Room) IsEmpty() bool {
	return r.members.Len() == 0
}

func (r *Room) IsMember(playerID int32) bool {
	return r.members.Has(playerID)
}

func (r *Room) IsOwner(playerID int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ownerID == playerID
}

func (r *Room) MemberCount() int {
	return r.members.Len()
}

func (r *Room) OwnerID() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ownerID
}

func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Room) CurrentFrame() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:           r.ID,
		OwnerID:      r.ownerID,
		MaxPlayers:   r.MaxPlayers,
		TickRate:     r.TickRate,
		Phase:        r.phase,
		Frame:        r.frame,
		Members:      r.members.IDs(),
		SyncedFrames: maps.Clone(r.syncedFrames),
	}
}

// Frames returns retained broadcast frames numbered from..to inclusive.
func (r *Room) Frames(from, to uint32) []protocol.FramePackage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.Range(from, to)
}
