package games

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	listCacheKey     = "games:list:front"
	listCacheTTL     = 30 * time.Second
	listCacheTimeout = 300 * time.Millisecond

	// defaultListLimit is the only listing size worth caching; other limits
	// go straight to the database.
	defaultListLimit = 10
)

// listCache keeps the front-page game listing in redis for a short window.
// A nil cache is valid and disables caching entirely.
type listCache struct {
	client *redis.Client
}

func newListCache(client *redis.Client) *listCache {
	if client == nil {
		return nil
	}
	return &listCache{client: client}
}

func (l *listCache) Get(ctx context.Context, limit int) ([]gameSummary, bool) {
	if l == nil || limit != defaultListLimit {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, listCacheTimeout)
	defer cancel()

	payload, err := l.client.Get(ctx, listCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logListCacheError("read", err)
		}
		return nil, false
	}
	var items []gameSummary
	if err := json.Unmarshal(payload, &items); err != nil {
		logListCacheError("decode", err)
		return nil, false
	}
	return items, true
}

func (l *listCache) Store(ctx context.Context, limit int, items []gameSummary) {
	if l == nil || limit != defaultListLimit {
		return
	}
	payload, err := json.Marshal(items)
	if err != nil {
		logListCacheError("encode", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, listCacheTimeout)
	defer cancel()
	if err := l.client.Set(ctx, listCacheKey, payload, listCacheTTL).Err(); err != nil {
		logListCacheError("write", err)
	}
}

// Invalidate drops the cached listing after any game or counter mutation.
func (l *listCache) Invalidate(ctx context.Context) {
	if l == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, listCacheTimeout)
	defer cancel()
	if err := l.client.Del(ctx, listCacheKey).Err(); err != nil {
		logListCacheError("invalidate", err)
	}
}

func logListCacheError(op string, err error) {
	log.Printf("games: list cache %s failed: %v", op, err)
}
