package zilliz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/metrics"
	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/pkg/circuitbreaker"
	"github.com/adaptive-search/backend/pkg/logger"
	"github.com/adaptive-search/backend/pkg/retry"
)

// Client stores text chunks with their embeddings and serves cosine similarity search.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

var _ search.VectorStore = (*Client)(nil)

type Chunk struct {
	ID        string
	Embedding []float32
	Text      string
	DocID     string
	Title     string
	Source    string
	Timestamp time.Time
}

// filterable lists the scalar fields a Search filter may reference.
var filterable = map[string]bool{"doc_id": true, "source": true, "title": true}

var outputFields = []string{"chunk_id", "text", "doc_id", "title", "source"}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	cb := circuitbreaker.New("zilliz", circuitbreaker.Config{
		Cooldown:         30 * time.Second,
		Probes:           3,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange:    metrics.ObserveCircuit,
		Logger:           logger.GetLogger(),
	})

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		cb:             cb,
		retryConfig: retry.Config{
			Operation:    "zilliz",
			Retryable:    circuitbreaker.Retryable,
			OnRetry:      metrics.CountRetry("zilliz"),
			MaxAttempts:  2,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Logger:       logger.GetLogger(),
		},
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func varchar(name string, maxLen int) *entity.Field {
	return &entity.Field{
		Name:       name,
		DataType:   entity.FieldTypeVarChar,
		TypeParams: map[string]string{"max_length": fmt.Sprintf("%d", maxLen)},
	}
}

// CreateCollection creates and loads the chunk collection if it does not exist.
func (z *Client) CreateCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return z.client.LoadCollection(ctx, z.collectionName, false)
	}

	chunkID := varchar("chunk_id", 64)
	chunkID.PrimaryKey = true

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "searchable text chunks",
		Fields: []*entity.Field{
			chunkID,
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", z.vectorDim)},
			},
			varchar("text", 4096),
			varchar("doc_id", 64),
			varchar("title", 512),
			varchar("source", 512),
			{Name: "timestamp", DataType: entity.FieldTypeInt64},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))
	return nil
}

func (z *Client) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	docIDs := make([]string, len(chunks))
	titles := make([]string, len(chunks))
	sources := make([]string, len(chunks))
	timestamps := make([]int64, len(chunks))

	for i, chunk := range chunks {
		ids[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		texts[i] = truncateRunes(chunk.Text, 4000)
		docIDs[i] = chunk.DocID
		titles[i] = truncateRunes(chunk.Title, 500)
		sources[i] = truncateRunes(chunk.Source, 500)
		timestamps[i] = chunk.Timestamp.Unix()
	}

	err := z.cb.Execute(ctx, func() error {
		return retry.Do(ctx, z.retryConfig, func() error {
			_, err := z.client.Insert(ctx, z.collectionName, "",
				entity.NewColumnVarChar("chunk_id", ids),
				entity.NewColumnFloatVector("embedding", z.vectorDim, embeddings),
				entity.NewColumnVarChar("text", texts),
				entity.NewColumnVarChar("doc_id", docIDs),
				entity.NewColumnVarChar("title", titles),
				entity.NewColumnVarChar("source", sources),
				entity.NewColumnInt64("timestamp", timestamps),
			)
			if err != nil {
				return fmt.Errorf("failed to insert chunks: %w", err)
			}
			return z.client.Flush(ctx, z.collectionName, false)
		})
	})
	if err != nil {
		return search.Dependency("zilliz", "insert", err)
	}

	logger.Info("Chunks inserted into vector DB", zap.Int("count", len(chunks)))
	return nil
}

// Search returns up to limit hits ordered by cosine similarity. Filter keys
// outside doc_id, source and title are ignored.
func (z *Client) Search(ctx context.Context, vector []float32, limit int, filter map[string]string) ([]search.VectorHit, error) {
	expr := buildFilter(filter)

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	var hits []search.VectorHit
	err = z.cb.Execute(ctx, func() error {
		return retry.Do(ctx, z.retryConfig, func() error {
			res, err := z.client.Search(ctx, z.collectionName, []string{}, expr, outputFields,
				[]entity.Vector{entity.FloatVector(vector)}, "embedding", entity.COSINE, limit, sp)
			if err != nil {
				return fmt.Errorf("failed to search: %w", err)
			}
			hits = collectHits(res)
			return nil
		})
	})
	if err != nil {
		return nil, search.Dependency("zilliz", "search", err)
	}

	logger.Debug("Vector search completed",
		zap.Int("limit", limit),
		zap.Int("results", len(hits)),
		zap.String("filter", expr),
	)
	return hits, nil
}

func collectHits(results []client.SearchResult) []search.VectorHit {
	var hits []search.VectorHit
	for _, sr := range results {
		for i := 0; i < sr.ResultCount; i++ {
			payload := make(map[string]any, len(outputFields))
			for _, name := range outputFields {
				col := sr.Fields.GetColumn(name)
				if col == nil {
					continue
				}
				if v, err := col.Get(i); err == nil {
					payload[name] = v
				}
			}
			id, _ := payload["chunk_id"].(string)
			hits = append(hits, search.VectorHit{
				ID:      id,
				Score:   float64(sr.Scores[i]),
				Payload: payload,
			})
		}
	}
	return hits
}

// buildFilter renders equality constraints as a Milvus boolean expression.
func buildFilter(filter map[string]string) string {
	keys := make([]string, 0, len(filter))
	for k, v := range filter {
		if filterable[k] && v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(filter[k])
		parts = append(parts, fmt.Sprintf(`%s == "%s"`, k, v))
	}
	return strings.Join(parts, " && ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
