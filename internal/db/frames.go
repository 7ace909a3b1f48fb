package db

import (
	"fmt"
	"time"
)

// FrameRecord is one broadcast frame. Payload holds the encoded frame
// package exactly as clients received it.
type FrameRecord struct {
	ServerID   string
	RoomID     int32
	Frame      uint32
	Payload    []byte
	RecordedAt time.Time
}

func (d *DB) BatchRecordFrames(frames []FrameRecord) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO frames (server_id, room_id, frame, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (server_id, room_id, frame) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range frames {
		if _, err := stmt.Exec(f.ServerID, f.RoomID, int64(f.Frame), f.Payload, f.RecordedAt); err != nil {
			return fmt.Errorf("recording frame in batch: %w", err)
		}
	}

	return tx.Commit()
}

// GetFrames returns archived frames from..to inclusive, oldest first.
func (d *DB) GetFrames(serverID string, roomID int32, from, to uint32) ([]FrameRecord, error) {
	rows, err := d.conn.Query(`
		SELECT server_id, room_id, frame, payload, recorded_at
		FROM frames
		WHERE server_id = $1 AND room_id = $2 AND frame BETWEEN $3 AND $4
		ORDER BY frame
	`, serverID, roomID, int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("querying frames: %w", err)
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var f FrameRecord
		var frame int64
		if err := rows.Scan(&f.ServerID, &f.RoomID, &frame, &f.Payload, &f.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning frame: %w", err)
		}
		f.Frame = uint32(frame)
		out = append(out, f)
	}
	return out, rows.Err()
}
