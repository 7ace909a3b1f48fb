package events

import "time"

// FrameCommitted is published once per broadcast frame. Payload is the
// encoded FramePackage exactly as it was sent to clients.
type FrameCommitted struct {
	RoomID  int32
	Frame   uint32
	Payload []byte
	At      time.Time
}

type LifecycleKind string

const (
	RoomCreated          = LifecycleKind("created")
	RoomFrameSyncStarted = LifecycleKind("frame_sync_started")
	RoomDisposed         = LifecycleKind("disposed")
)

type RoomLifecycle struct {
	Kind       LifecycleKind
	RoomID     int32
	OwnerID    int32
	MaxPlayers int32
	TickRate   int
	At         time.Time
}

type Bus struct {
	Frames    chan FrameCommitted
	Lifecycle chan RoomLifecycle
}

func NewBus(size int) *Bus {
	return &Bus{
		Frames:    make(chan FrameCommitted, size),
		Lifecycle: make(chan RoomLifecycle, 64),
	}
}

// PublishFrame never blocks; it reports false when the event was dropped.
// A nil bus drops everything.
func (b *Bus) PublishFrame(ev FrameCommitted) bool {
	if b == nil {
		return false
	}
	select {
	case b.Frames <- ev:
		return true
	default:
		return false
	}
}

func (b *Bus) PublishLifecycle(ev RoomLifecycle) bool {
	if b == nil {
		return false
	}
	select {
	case b.Lifecycle <- ev:
		return true
	default:
		return false
	}
}
