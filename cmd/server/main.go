package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomchat/internal/auth"
	"roomchat/internal/config"
	"roomchat/internal/db"
	clog "roomchat/internal/log"
	"roomchat/internal/presence"
	"roomchat/internal/server"
	"roomchat/internal/service"
	"roomchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("upload dir")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users := service.NewUserService(gdb)
	rooms := service.NewRoomService(gdb)
	files := service.NewFileStore(cfg.UploadDir, cfg.MaxUploadBytes, cfg.AllowedExtensions)
	msgs := service.NewMessageService(gdb, files)
	stats := service.NewStatsService(gdb, msgs)

	if created, err := users.EnsureAdmin(ctx, cfg.AdminPassword); err != nil {
		log.Fatal().Err(err).Msg("seed admin")
	} else if created {
		log.Warn().Msg("created admin account; change its password")
	}
	if created, err := rooms.EnsureDefault(ctx); err != nil {
		log.Fatal().Err(err).Msg("seed default room")
	} else if created {
		log.Info().Msg("created default room")
	}

	hub := ws.NewHub(presence.NewTracker(), cfg.RoomScopedBroadcast)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	sessions := auth.NewSessions(gdb, cfg.SecretKey, time.Duration(cfg.SessionTTLMinutes)*time.Minute)
	gw := ws.NewGateway(hub, users, msgs, rooms, cfg.MaxUploadBytes, cfg.AllowedOrigins)
	h := server.NewHandler(users, rooms, msgs, stats, sessions, hub, cfg.Env != "dev")

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, h, gw),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	// Closing the hub first drops websocket clients, which Shutdown does not wait for.
	stopHub()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}
