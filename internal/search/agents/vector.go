package agents

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/pkg/logger"
)

const (
	entityLimit  = 3
	entityWeight = 0.8
)

// VectorAgent runs semantic similarity search, plus one narrow search per
// entity when entities are supplied.
type VectorAgent struct {
	embedder search.Embedder
	store    search.VectorStore
	limits   Limits
	tracker  *tracker
}

func NewVector(embedder search.Embedder, store search.VectorStore, limits Limits) *VectorAgent {
	return &VectorAgent{
		embedder: embedder,
		store:    store,
		limits:   limits.withDefaults(),
		tracker:  newTracker(NameVector, 2),
	}
}

func (a *VectorAgent) Name() string { return NameVector }

func (a *VectorAgent) Performance() search.AgentPerformance { return a.tracker.snapshot() }

func (a *VectorAgent) Search(ctx context.Context, query string, entities search.Entities) (results []search.SearchResult, err error) {
	start := time.Now()
	defer func() { a.tracker.record(start, err) }()

	vec, err := a.embedder.Encode(ctx, query)
	if err != nil {
		return nil, search.Dependency("vector_agent", "encode", err)
	}

	hits, err := a.store.Search(ctx, vec, a.limits.OverFetch, nil)
	if err != nil {
		return nil, search.Dependency("vector_agent", "search", err)
	}
	results = toResults(hits, 1.0, StrategyVectorSemantic, nil)

	for _, e := range entities.Flatten() {
		if ctx.Err() != nil {
			break
		}
		extra, err := a.entitySearch(ctx, e)
		if err != nil {
			logger.Warn("Entity-focused search failed",
				zap.String("entity", e.Text),
				zap.Error(err),
			)
			continue
		}
		results = append(results, extra...)
	}

	return top(results, a.limits.TopN), nil
}

func (a *VectorAgent) entitySearch(ctx context.Context, e search.Entity) ([]search.SearchResult, error) {
	vec, err := a.embedder.Encode(ctx, e.Text)
	if err != nil {
		return nil, search.Dependency("vector_agent", "encode_entity", err)
	}
	hits, err := a.store.Search(ctx, vec, entityLimit, nil)
	if err != nil {
		return nil, search.Dependency("vector_agent", "search_entity", err)
	}
	return toResults(hits, entityWeight, StrategyEntityFocused, map[string]any{
		"entity":      e.Text,
		"entity_type": string(e.Type),
	}), nil
}

func toResults(hits []search.VectorHit, weight float64, strategy string, extra map[string]any) []search.SearchResult {
	out := make([]search.SearchResult, 0, len(hits))
	for _, h := range hits {
		text, _ := h.Payload["text"].(string)
		if text == "" {
			continue
		}
		md := copyMetadata(h.Payload, len(extra)+1)
		md["id"] = h.ID
		for k, v := range extra {
			md[k] = v
		}
		out = append(out, search.SearchResult{
			Content:      text,
			Score:        h.Score * weight,
			Source:       search.SourceVector,
			StrategyUsed: strategy,
			Metadata:     md,
		})
	}
	return out
}
