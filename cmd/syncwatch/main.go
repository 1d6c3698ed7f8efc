package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"lingosync/internal/config"
	"lingosync/internal/localstate"
	"lingosync/internal/util"
	"lingosync/pkg/remote"
	"lingosync/pkg/sync"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	store, err := remote.NewRedisStore(remote.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Logger:   logger,
	})
	if err != nil {
		util.Fatal("failed to connect redis", "err", err)
	}
	defer store.Close()

	local, err := localstate.OpenBadger(localstate.BadgerConfig{
		Path:     filepath.Join(cfg.DataDir, "state"),
		InMemory: cfg.DataDir == "",
		Logger:   logger,
	})
	if err != nil {
		util.Fatal("failed to open local state", "err", err)
	}
	defer local.Close()

	ds := sync.New(sync.Config{
		Store:           store,
		Local:           local,
		Logger:          logger,
		Backoff:         cfg.Backoff(),
		CollectionLimit: cfg.CollectionLimit,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ds.StartObserving(ctx, cfg.UserID); err != nil {
		util.Fatal("failed to start observing", "err", err)
	}
	slog.Info("syncwatch observing", "user", cfg.UserID)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			ds.StopObserving()
			return
		case <-ticker.C:
			slog.Info("badge state",
				"friends", len(ds.Friends()),
				"pendingRequests", len(ds.PendingRequests()),
				"friendBadge", ds.FriendBadgeCount(),
				"unread", ds.TotalUnreadCount(),
				"unseenShared", ds.HasUnseenSharedItems(),
				"chats", len(ds.Chats()))
		}
	}
}
