package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nicebartender/keepalive-server/activity"
	"github.com/nicebartender/keepalive-server/admin"
	"github.com/nicebartender/keepalive-server/db"
	"github.com/nicebartender/keepalive-server/pairing"
	"github.com/nicebartender/keepalive-server/registry"
	"github.com/nicebartender/keepalive-server/rpc"
	"github.com/nicebartender/keepalive-server/ws"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("keepalive-server failed", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if n, err := database.SeedMessages(context.Background(), db.DefaultMessages); err != nil {
		return fmt.Errorf("seed messages: %w", err)
	} else if n > 0 {
		logger.Info("seeded message pool", "count", n)
	}

	tokens, err := admin.NewTokens([]byte(cfg.JWTSecret), cfg.AdminUser, cfg.AdminPass, cfg.TokenTTL)
	if err != nil {
		return err
	}

	cooldown := registry.NewCooldown(cfg.Timing.Cooldown)
	defer cooldown.Close()
	reg := registry.New(cooldown, logger)

	feed := activity.NewFeed(database, logger)
	defer feed.Close()

	engine := pairing.NewEngine(pairing.Config{
		Rooms:    database,
		Messages: database,
		Registry: reg,
		Cooldown: cooldown,
		Reporter: feed,
		Timing:   cfg.Timing,
		Logger:   logger,
	})
	defer engine.Close()
	feed.SetStatusSource(engine.Status)

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	router := rpc.NewRouter(rpc.Config{
		Hub:      hub,
		Rooms:    database,
		Registry: reg,
		Engine:   engine,
		Feed:     feed,
		Tokens:   tokens,
		Logger:   logger,
	})

	mounts := admin.Mounts{
		Agents:    hub.ServeAgent,
		Observers: hub.ServeObserver,
	}
	if cfg.StaticDir != "" {
		mounts.Static = http.FileServer(http.Dir(cfg.StaticDir))
	}
	handler := admin.NewHandler(database, feed, router, tokens, logger)

	// no read or write timeout: both would cut long-lived WebSocket sessions
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           admin.NewRouter(logger, handler, mounts),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("keepalive-server starting", "addr", cfg.ListenAddr, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
