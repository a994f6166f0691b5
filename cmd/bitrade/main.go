package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pouladzade/bitrade/internal/api"
	"github.com/pouladzade/bitrade/internal/cache"
	"github.com/pouladzade/bitrade/internal/config"
	"github.com/pouladzade/bitrade/internal/market"
	"github.com/pouladzade/bitrade/internal/settlement"
	"github.com/pouladzade/bitrade/internal/store"
	"github.com/pouladzade/bitrade/internal/stream"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("bitrade matching engine starting")

	// Storage.
	st, err := store.Open(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("store open failed")
	}
	if err := st.SetPoolSize(cfg.Database.PoolSize); err != nil {
		log.Fatal().Err(err).Msg("store pool configuration failed")
	}

	// Optional redis cache + trade pub/sub.
	var c *cache.Cache
	if cfg.Redis.Addr != "" {
		c = cache.New(cfg.Redis.Addr)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := c.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, continuing without cache")
			c = nil
		}
		cancel()
	}

	// Websocket feed.
	hub := stream.NewHub()

	// Market manager: recover every persisted market before serving.
	mgr := market.NewManager(st, settlement.Publishers{c, hub}, hub)
	if err := mgr.Bootstrap(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("market bootstrap failed")
	}

	// RPC surface.
	srv := &api.Server{
		Manager:   mgr,
		Reader:    st,
		Cache:     c,
		Hub:       hub,
		JWTSecret: cfg.Auth.JWTSecret,
	}
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: srv.Router(),
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	mgr.Shutdown()
	if c != nil {
		c.Close()
	}
	log.Info().Msg("bye")
}
