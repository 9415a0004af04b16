package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/api"
	"github.com/mattfrayser/whiteboard-sync/internal/config"
	"github.com/mattfrayser/whiteboard-sync/internal/element"
	"github.com/mattfrayser/whiteboard-sync/internal/handlers"
	"github.com/mattfrayser/whiteboard-sync/internal/logging"
	"github.com/mattfrayser/whiteboard-sync/internal/middleware"
	"github.com/mattfrayser/whiteboard-sync/internal/room"
	"github.com/mattfrayser/whiteboard-sync/internal/store"
	"github.com/mattfrayser/whiteboard-sync/internal/transport"
	"github.com/mattfrayser/whiteboard-sync/internal/user"

	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func run() error {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	logging.Configure(cfg.Log.Level, cfg.Log.Pretty)

	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info().Str("driver", cfg.Store.Driver).Msg("store opened")

	limits := cfg.MiddlewareLimits()
	validator := element.NewValidator()
	broadcaster := room.NewBroadcaster()
	sessionMgr := user.NewSessionManager(limits, cfg.Sessions.TTL)
	ipLimiter := middleware.NewIPRateLimit(cfg.IP.Every, cfg.IP.Burst, cfg.IP.IdleTTL)
	roomManager := room.NewManager(st, limits, cfg.Rooms.IdleTTL, cfg.Rooms.MaxAge)
	autoSaver := room.NewAutoSaver(roomManager, cfg.Autosave.Delay, cfg.Autosave.Timeout)

	msgRouter := handlers.NewMessageRouter(validator, limits, sessionMgr, broadcaster, autoSaver)
	ws := transport.NewHandler(cfg.AllowedOrigins, ipLimiter, limits, sessionMgr, roomManager, msgRouter)
	server := api.NewServer(st, roomManager, validator, broadcaster, autoSaver, cfg.MaxUploadBytes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup(ctx, cfg.Rooms.CleanupInterval, roomManager, sessionMgr, ipLimiter)
	}()

	httpServer := &http.Server{Addr: cfg.Addr, Handler: server.Routes(ws)}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("whiteboard server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		log.Info().Str("signal", sig.String()).Msg("signal caught")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("server listen failed")
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	// websockets are hijacked; close them so no edit lands after the last save
	if err := ws.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("websocket shutdown")
	}
	wg.Wait()

	if err := autoSaver.Flush(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to flush pending saves")
	}
	if err := roomManager.PersistAll(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("all rooms saved")
	return nil
}

// cleanup: evicts idle rooms, expired sessions and idle IP limiters
func cleanup(ctx context.Context, interval time.Duration, rooms *room.Manager, sessions *user.SessionManager, ips *middleware.IPRateLimit) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rooms.Cleanup(ctx)
			sessions.Cleanup()
			ips.Cleanup()
			log.Debug().
				Int("rooms", rooms.RoomCount()).
				Int("sessions", sessions.Len()).
				Int("ips", ips.Len()).
				Msg("cleanup complete")
		}
	}
}
