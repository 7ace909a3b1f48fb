package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"tinysync/internal/db"
	"tinysync/internal/metrics"
	"tinysync/internal/protocol"
	"tinysync/internal/rooms"
)

// maxFramesPerQuery caps one /api/room/frames response.
const maxFramesPerQuery = 3600

type Server struct {
	Registry *rooms.Registry
	Metrics  *metrics.Collector
	DB       *db.DB // nil if no database configured
	ServerID string // namespaces archived rooms from this process
}

// Routes builds the HTTP mux. realtime serves the WebSocket endpoint.
func (s *Server) Routes(realtime http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	s.registerRoomService(mux)
	mux.Handle("/ws", realtime)
	mux.HandleFunc("/api/room/frames", s.handleFrames)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.Metrics.Handler())
	return mux
}

type inputJSON struct {
	PlayerID    int32  `json:"player_id"`
	SyncedFrame uint32 `json:"synced_frame"`
	TargetFrame uint32 `json:"target_frame"`
	Cmd         int32  `json:"cmd"`
	Arg         []byte `json:"arg"`
}

type frameJSON struct {
	Frame  uint32      `json:"frame"`
	Inputs []inputJSON `json:"inputs"`
}

type framesResponse struct {
	RoomID int32       `json:"room_id"`
	Source string      `json:"source"`
	Frames []frameJSON `json:"frames"`
}

func toFrameJSON(pkg protocol.FramePackage) frameJSON {
	out := frameJSON{Frame: pkg.Frame, Inputs: make([]inputJSON, 0, len(pkg.Inputs))}
	for _, in := range pkg.Inputs {
		out.Inputs = append(out.Inputs, inputJSON{
			PlayerID:    in.PlayerID,
			SyncedFrame: in.SyncedFrame,
			TargetFrame: in.TargetFrame,
			Cmd:         in.Cmd,
			Arg:         in.Arg,
		})
	}
	return out
}

func parseUint32(v string, fallback uint32) (uint32, error) {
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	return uint32(n), err
}

// handleFrames serves retained frames of a live room, or archived frames
// of a finished one when the archive is configured.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID, err := strconv.ParseInt(q.Get("room_id"), 10, 32)
	if err != nil {
		http.Error(w, "Invalid room_id", http.StatusBadRequest)
		return
	}
	from, err := parseUint32(q.Get("from"), 0)
	if err != nil {
		http.Error(w, "Invalid from", http.StatusBadRequest)
		return
	}
	to, err := parseUint32(q.Get("to"), math.MaxUint32)
	if err != nil || to < from {
		http.Error(w, "Invalid to", http.StatusBadRequest)
		return
	}
	if to-from >= maxFramesPerQuery {
		to = from + maxFramesPerQuery - 1
	}

	resp := framesResponse{RoomID: int32(roomID), Frames: []frameJSON{}}
	if room, ok := s.Registry.Room(int32(roomID)); ok {
		resp.Source = "memory"
		for _, pkg := range room.Frames(from, to) {
			resp.Frames = append(resp.Frames, toFrameJSON(pkg))
		}
	} else if s.DB != nil {
		resp.Source = "archive"
		records, err := s.DB.GetFrames(s.ServerID, int32(roomID), from, to)
		if err != nil {
			log.Printf("[DB] GetFrames error: %v\n", err)
			http.Error(w, "Failed to load frames", http.StatusInternalServerError)
			return
		}
		for _, rec := range records {
			var pkg protocol.FramePackage
			if err := pkg.UnmarshalBinary(rec.Payload); err != nil {
				log.Printf("[Server] room=%d frame=%d archived payload: %v\n", rec.RoomID, rec.Frame, err)
				continue
			}
			resp.Frames = append(resp.Frames, toFrameJSON(pkg))
		}
	} else {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Println(err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "ok"
	if s.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.DB.Ping(ctx); err != nil {
			status = "db_error"
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"%s","error":%q}`, status, err.Error())
			return
		}
	}
	fmt.Fprintf(w, `{"status":"%s"}`, status)
}
