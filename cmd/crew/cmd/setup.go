package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devcrewhq/crew/internal/config"
	"github.com/devcrewhq/crew/internal/store"
)

// openStore opens the sqlite task store at the configured path.
func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", cfg.Database.URL, err)
	}
	return st, nil
}

// openRedis connects to the coordination backend and verifies it responds
// before any queue or lock traffic starts.
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.URL, err)
	}
	return client, nil
}
