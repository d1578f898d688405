package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matanguihanbenson/agos-app/internal/auth"
	"github.com/matanguihanbenson/agos-app/internal/config"
	"github.com/matanguihanbenson/agos-app/internal/firestore"
	"github.com/matanguihanbenson/agos-app/internal/httpapi"
	"github.com/matanguihanbenson/agos-app/internal/lifecycle"
	"github.com/matanguihanbenson/agos-app/internal/lock"
	"github.com/matanguihanbenson/agos-app/internal/loop"
	"github.com/matanguihanbenson/agos-app/internal/rtdb"
	"github.com/matanguihanbenson/agos-app/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	slog.SetDefault(logger)

	provider, err := auth.New(cfg.ServiceAccount.ClientEmail, cfg.ServiceAccount.PrivateKey, auth.Options{
		TokenURL: cfg.ServiceAccount.TokenURL,
	})
	if err != nil {
		slog.Error("credential provider init failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		slog.Error("redis init failed", "error", err)
		os.Exit(1)
	}

	docs := firestore.New(cfg.Firestore.ProjectID, cfg.Firestore.BaseURL, provider)
	tree := rtdb.New(cfg.RTDB.DatabaseURL, provider)
	agg := telemetry.New(tree, cfg.Telemetry.TrashInputUnit)
	engine := lifecycle.NewEngine(docs, tree, agg, lifecycle.Options{})
	runner := lifecycle.NewRunner(docs, cfg.Loop.BatchLimit)
	mutex := lock.New(rdb, cfg.Redis.LockKey, cfg.Loop.LockTTL)

	syncLoop := loop.New(mutex, runner, engine, loop.Options{
		Schedule: cfg.Loop.Schedule,
		LockWait: cfg.Loop.LockWait,
	})
	if err := syncLoop.Start(); err != nil {
		slog.Error("sync loop start failed", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpapi.New(syncLoop).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("sync-service started", "port", cfg.Port, "schedule", cfg.Loop.Schedule)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	syncLoop.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
