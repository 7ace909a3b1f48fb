package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"tinysync/internal/config"
	"tinysync/internal/db"
	"tinysync/internal/dispatch"
	"tinysync/internal/events"
	"tinysync/internal/metrics"
	"tinysync/internal/players"
	"tinysync/internal/rooms"
	"tinysync/internal/wshub"
)

// archiveBuffer is how many frames may wait for the archive writer before
// new ones are dropped.
const archiveBuffer = 4096

// Run serves until ctx is cancelled, then shuts down every room and flushes
// the archive.
func Run(ctx context.Context) error {
	appCfg := config.Load()

	srv := &Server{
		Metrics:  metrics.New(),
		ServerID: uuid.NewString(),
	}
	roomCfg := rooms.Config{
		TickRate:      appCfg.TickRate,
		HistoryFrames: appCfg.HistoryFrames,
		InputHorizon:  uint32(appCfg.InputHorizon),
		Metrics:       srv.Metrics,
	}

	// Optional database connection
	archiveCtx, stopArchive := context.WithCancel(context.Background())
	defer stopArchive()
	archiveDone := make(chan struct{})
	if appCfg.DatabaseURL != "" {
		database, err := db.Connect(appCfg.DatabaseURL)
		if err != nil {
			log.Printf("[DB] Failed to connect: %v (running without database)\n", err)
			close(archiveDone)
		} else {
			if err := database.Migrate(); err != nil {
				log.Printf("[DB] Migration failed: %v\n", err)
			}
			defer database.Close()
			srv.DB = database
			bus := events.NewBus(archiveBuffer)
			roomCfg.Archive = bus
			go func() {
				defer close(archiveDone)
				archiveWriter(archiveCtx, database, srv.ServerID, bus)
			}()
			log.Printf("[DB] Archiving rooms as server %s\n", srv.ServerID)
		}
	} else {
		log.Println("[DB] DATABASE_URL not set, running without database")
		close(archiveDone)
	}

	srv.Registry = rooms.NewRegistry(ctx, roomCfg, players.NewStore())
	dispatcher := dispatch.New(srv.Registry, srv.Metrics)
	hub := wshub.NewHub(appCfg.ConnectionKey, appCfg.SendBuffer, dispatcher, srv.Metrics)

	httpServer := &http.Server{
		Addr:    "0.0.0.0:" + appCfg.Port,
		Handler: srv.Routes(hub),
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("Server listening on http://localhost:%s (realtime on /ws)\n", appCfg.Port)
		errCh <- httpServer.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case <-ctx.Done():
		log.Println("[Server] shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] shutdown error: %v\n", err)
	}
	hub.Close()
	srv.Registry.Close()

	stopArchive()
	<-archiveDone
	return runErr
}
