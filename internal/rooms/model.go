package rooms

import (
	"tinysync/internal/events"
)

// Phase is the lifecycle state of a room.
type Phase int

const (
	Forming Phase = iota
	GameStarted
	FrameSyncActive
	Disposed
)

func (p Phase) String() string {
	switch p {
	case Forming:
		return "forming"
	case GameStarted:
		return "game_started"
	case FrameSyncActive:
		return "frame_sync_active"
	case Disposed:
		return "disposed"
	}
	return "unknown"
}

// Metrics receives room and frame counters.
type Metrics interface {
	RoomsActive(n int)
	FrameBroadcast(defaulted, buffered int)
	StaleInput()
	InputBeyondHorizon()
	ArchiveDropped()
	DecodeFailure(stage string)
}

type nopMetrics struct{}

func (nopMetrics) RoomsActive(int)         {}
func (nopMetrics) FrameBroadcast(int, int) {}
func (nopMetrics) StaleInput()             {}
func (nopMetrics) InputBeyondHorizon()     {}
func (nopMetrics) ArchiveDropped()         {}
func (nopMetrics) DecodeFailure(string)    {}

// MaxTickRate is the fastest tick rate a room runs at.
const MaxTickRate = 1000

// Config holds the settings applied to every room a Registry creates.
type Config struct {
	TickRate      int
	HistoryFrames int
	// InputHorizon bounds how far past the current frame an input may
	// target. Zero accepts any future frame.
	InputHorizon uint32
	Archive       *events.Bus // nil disables archiving
	Metrics       Metrics
}

func DefaultConfig() Config {
	return Config{
		TickRate:      30,
		HistoryFrames: 1800,
	}
}

func (c Config) withDefaults() Config {
	if c.TickRate <= 0 {
		c.TickRate = 30
	}
	c.TickRate = min(c.TickRate, MaxTickRate)
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
	return c
}

// Snapshot is a point-in-time copy of a room's observable state.
type Snapshot struct {
	ID           int32
	OwnerID      int32
	MaxPlayers   int32
	TickRate     int
	Phase        Phase
	Frame        uint32
	Members      []int32
	SyncedFrames map[int32]uint32
}
