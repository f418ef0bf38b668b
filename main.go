package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/isdelr/gatekeeper-be/internal/api"
	"github.com/isdelr/gatekeeper-be/internal/auth"
	"github.com/isdelr/gatekeeper-be/internal/config"
	"github.com/isdelr/gatekeeper-be/internal/database"
	"github.com/isdelr/gatekeeper-be/internal/logger"
	"github.com/isdelr/gatekeeper-be/internal/maintenance"
	"github.com/isdelr/gatekeeper-be/internal/services"
	"github.com/isdelr/gatekeeper-be/internal/websocket"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Init(cfg.LogLevel, !cfg.IsProduction())

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := database.Migrate(context.Background(), db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	// Token blacklist
	var blacklist services.Blacklist = services.NewSQLBlacklist(db)
	if cfg.RedisURL != "" {
		redisBlacklist, err := services.NewRedisBlacklist(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect token blacklist to Redis")
		}
		defer redisBlacklist.Close()
		blacklist = redisBlacklist
		log.Info().Msg("Using Redis token blacklist")
	}

	// Set up WebSocket Hub
	hub := websocket.NewHub()
	go hub.Run()

	// Set up services
	userService, err := services.NewUserService(db, cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize user service")
	}
	eventService := services.NewEventService(db)
	tokens := auth.NewTokenManager([]byte(cfg.JWTSecret), cfg.JWTTTL, cfg.JWTIssuer)
	sessionService := services.NewSessionService(userService, tokens, blacklist, eventService, services.SessionOptions{
		SingleSession: cfg.SingleSession,
		Notifier:      hub,
		Revoked:       websocket.NewSessionRevokedMessage,
	})

	// Set up and run the background pruner
	pruner, err := maintenance.NewPruner(cfg.PruneSchedule, blacklist, eventService, cfg.EventRetention)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pruner")
	}
	pruner.Start()

	// Set up router
	router := api.NewRouter(api.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		UsersPerMinute: cfg.UsersPerMinute,
	}, hub, sessionService, userService, eventService, db)

	// Set up server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Str("env", cfg.Env).Msg("Server starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	pruner.Stop()
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}
