// Package cache fronts the embedding capability with an in-process LRU and an
// optional shared cache.
package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/metrics"
	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/pkg/logger"
	"github.com/adaptive-search/backend/pkg/utils"
)

// Remote is a shared embedding cache such as the Redis client.
type Remote interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder checks the local LRU, then the remote cache, then the model.
type CachedEmbedder struct {
	next   search.Embedder
	local  *lru.Cache[string, []float32]
	remote Remote
	ttl    time.Duration
}

var _ search.Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps next. remote may be nil.
func NewCachedEmbedder(next search.Embedder, size int, remote Remote, ttl time.Duration) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 1000
	}
	local, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{next: next, local: local, remote: remote, ttl: ttl}, nil
}

func (c *CachedEmbedder) Encode(ctx context.Context, text string) ([]float32, error) {
	key := utils.HashString(text)

	if v, ok := c.local.Get(key); ok {
		metrics.CacheHits.WithLabelValues("embedding_local").Inc()
		return v, nil
	}
	metrics.CacheMisses.WithLabelValues("embedding_local").Inc()

	if c.remote != nil {
		v, ok, err := c.remote.GetEmbedding(ctx, key)
		if err != nil {
			logger.Warn("Remote embedding cache read failed", zap.Error(err))
		} else if ok {
			metrics.CacheHits.WithLabelValues("embedding_remote").Inc()
			c.local.Add(key, v)
			return v, nil
		} else {
			metrics.CacheMisses.WithLabelValues("embedding_remote").Inc()
		}
	}

	v, err := c.next.Encode(ctx, text)
	if err != nil {
		return nil, err
	}

	c.local.Add(key, v)
	if c.remote != nil {
		if err := c.remote.SetEmbedding(ctx, key, v, c.ttl); err != nil {
			logger.Warn("Remote embedding cache write failed", zap.Error(err))
		}
	}
	return v, nil
}

func (c *CachedEmbedder) Len() int {
	return c.local.Len()
}
