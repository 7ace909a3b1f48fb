package db

import (
	"fmt"
	"time"
)

type RoomRecord struct {
	ServerID    string
	RoomID      int32
	OwnerID     int32
	MaxPlayers  int32
	TickRate    int
	CreatedAt   time.Time
	FrameSyncAt *time.Time
	DisposedAt  *time.Time
}

func (d *DB) RecordRoomCreated(rec RoomRecord) error {
	_, err := d.conn.Exec(`
		INSERT INTO rooms (server_id, room_id, owner_id, max_players, tick_rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (server_id, room_id) DO NOTHING
	`, rec.ServerID, rec.RoomID, rec.OwnerID, rec.MaxPlayers, rec.TickRate, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording room: %w", err)
	}
	return nil
}

func (d *DB) MarkFrameSync(serverID string, roomID int32, at time.Time) error {
	_, err := d.conn.Exec(`
		UPDATE rooms SET frame_sync_at = $3 WHERE server_id = $1 AND room_id = $2
	`, serverID, roomID, at)
	if err != nil {
		return fmt.Errorf("marking frame sync: %w", err)
	}
	return nil
}

func (d *DB) MarkRoomDisposed(serverID string, roomID int32, at time.Time) error {
	_, err := d.conn.Exec(`
		UPDATE rooms SET disposed_at = $3 WHERE server_id = $1 AND room_id = $2
	`, serverID, roomID, at)
	if err != nil {
		return fmt.Errorf("marking room disposed: %w", err)
	}
	return nil
}

func (d *DB) GetRoom(serverID string, roomID int32) (*RoomRecord, error) {
	rec := &RoomRecord{}
	err := d.conn.QueryRow(`
		SELECT server_id, room_id, owner_id, max_players, tick_rate, created_at, frame_sync_at, disposed_at
		FROM rooms WHERE server_id = $1 AND room_id = $2
	`, serverID, roomID).Scan(&rec.ServerID, &rec.RoomID, &rec.OwnerID, &rec.MaxPlayers, &rec.TickRate,
		&rec.CreatedAt, &rec.FrameSyncAt, &rec.DisposedAt)
	if err != nil {
		return nil, fmt.Errorf("getting room: %w", err)
	}
	return rec, nil
}
