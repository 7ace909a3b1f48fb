package server

import (
	"context"
	"log"
	"time"

	"tinysync/internal/db"
	"tinysync/internal/events"
)

const (
	archiveBatchSize     = 50
	archiveFlushInterval = 500 * time.Millisecond
)

type archiveStore interface {
	RecordRoomCreated(rec db.RoomRecord) error
	MarkFrameSync(serverID string, roomID int32, at time.Time) error
	MarkRoomDisposed(serverID string, roomID int32, at time.Time) error
	BatchRecordFrames(frames []db.FrameRecord) error
}

// archiveWriter drains bus into store until ctx is cancelled, then writes
// whatever is still queued.
func archiveWriter(ctx context.Context, store archiveStore, serverID string, bus *events.Bus) {
	ticker := time.NewTicker(archiveFlushInterval)
	defer ticker.Stop()

	batch := make([]db.FrameRecord, 0, archiveBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := store.BatchRecordFrames(batch); err != nil {
			log.Printf("[DB] BatchRecordFrames error: %v\n", err)
		}
		batch = batch[:0]
	}
	addFrame := func(ev events.FrameCommitted) {
		batch = append(batch, db.FrameRecord{
			ServerID:   serverID,
			RoomID:     ev.RoomID,
			Frame:      ev.Frame,
			Payload:    ev.Payload,
			RecordedAt: ev.At,
		})
		if len(batch) >= archiveBatchSize {
			flush()
		}
	}

	for {
		select {
		case ev := <-bus.Frames:
			addFrame(ev)
		case ev := <-bus.Lifecycle:
			applyLifecycle(store, serverID, ev)
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case ev := <-bus.Frames:
					addFrame(ev)
				case ev := <-bus.Lifecycle:
					applyLifecycle(store, serverID, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

func applyLifecycle(store archiveStore, serverID string, ev events.RoomLifecycle) {
	var err error
	switch ev.Kind {
	case events.RoomCreated:
		err = store.RecordRoomCreated(db.RoomRecord{
			ServerID:   serverID,
			RoomID:     ev.RoomID,
			OwnerID:    ev.OwnerID,
			MaxPlayers: ev.MaxPlayers,
			TickRate:   ev.TickRate,
			CreatedAt:  ev.At,
		})
	case events.RoomFrameSyncStarted:
		err = store.MarkFrameSync(serverID, ev.RoomID, ev.At)
	case events.RoomDisposed:
		err = store.MarkRoomDisposed(serverID, ev.RoomID, ev.At)
	}
	if err != nil {
		log.Printf("[DB] room=%d %s: %v\n", ev.RoomID, ev.Kind, err)
	}
}
