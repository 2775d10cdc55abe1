package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client is the subset of *redis.Client the cache needs.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// CachingEmbedder answers repeated embedding requests from Redis. Cache
// failures fall through to the wrapped embedder and are never returned.
type CachingEmbedder struct {
	next   Embedder
	client Client
	ttl    time.Duration
}

func NewCachingEmbedder(next Embedder, client Client, ttl time.Duration) *CachingEmbedder {
	return &CachingEmbedder{next: next, client: client, ttl: ttl}
}

func (c *CachingEmbedder) Model() string { return c.next.Model() }

func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := Key(c.next.Model(), text)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vec []float32
		if jerr := json.Unmarshal(data, &vec); jerr == nil && len(vec) > 0 {
			return vec, nil
		}
		slog.WarnContext(ctx, "discarding unreadable cached embedding", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		slog.WarnContext(ctx, "embedding cache get failed", "error", err)
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if raw, jerr := json.Marshal(vec); jerr == nil {
		if serr := c.client.Set(ctx, key, raw, c.ttl).Err(); serr != nil {
			slog.WarnContext(ctx, "embedding cache set failed", "error", serr)
		}
	}
	return vec, nil
}

// Key namespaces cached vectors by model so a model change never serves
// stale vectors.
func Key(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + model + ":" + hex.EncodeToString(sum[:])
}
