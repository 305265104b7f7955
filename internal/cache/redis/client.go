// Package redis shares computed embeddings between replicas.
package redis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/pkg/logger"
)

type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
	// Namespace prefixes every key. Include the embedding model so vectors
	// from different models never mix.
	Namespace string
}

// Client stores embeddings as little-endian float32 blobs.
type Client struct {
	client    *redis.Client
	namespace string
}

func NewClient(opts Options) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr), zap.String("namespace", opts.Namespace))
	return &Client{client: client, namespace: opts.Namespace}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) key(textHash string) string {
	if c.namespace == "" {
		return "embedding:" + textHash
	}
	return c.namespace + ":" + textHash
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(textHash), encodeVector(embedding), ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache embedding: %w", err)
	}
	return nil
}

// GetEmbedding reports false when the key is missing. A corrupt value is
// treated as missing and removed.
func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, c.key(textHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached embedding: %w", err)
	}

	embedding, ok := decodeVector(data)
	if !ok {
		logger.Warn("Dropping corrupt cached embedding", zap.String("text_hash", textHash), zap.Int("bytes", len(data)))
		_ = c.client.Del(ctx, c.key(textHash)).Err()
		return nil, false, nil
	}
	logger.Debug("Embedding cache hit", zap.String("text_hash", textHash))
	return embedding, true, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, bool) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v, true
}
