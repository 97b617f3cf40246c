package cache

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	redisOnce   sync.Once
	redisClient *redis.Client
	redisErr    error
)

// GetRedisClient returns a singleton Redis client configured from environment
// variables. REDIS_URL takes precedence when set; otherwise REDIS_ADDR
// (default localhost:6379), REDIS_PASSWORD and REDIS_DB are used.
func GetRedisClient() (*redis.Client, error) {
	redisOnce.Do(func() {
		opts, err := optionsFromEnv()
		if err != nil {
			redisErr = err
			return
		}

		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			redisErr = fmt.Errorf("cache: ping redis %s failed: %w", opts.Addr, err)
			_ = client.Close()
			return
		}

		redisClient = client
	})

	return redisClient, redisErr
}

func optionsFromEnv() (*redis.Options, error) {
	if rawURL := strings.TrimSpace(os.Getenv("REDIS_URL")); rawURL != "" {
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("cache: parse REDIS_URL: %w", err)
		}
		return opts, nil
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		addr = "localhost:6379"
	}
	db := 0
	if rawDB := strings.TrimSpace(os.Getenv("REDIS_DB")); rawDB != "" {
		if parsed, err := strconv.Atoi(rawDB); err == nil {
			db = parsed
		}
	}

	return &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}, nil
}
