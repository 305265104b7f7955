package agents

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/search/searchtest"
)

func vectorHits(n int) []search.VectorHit {
	hits := make([]search.VectorHit, 0, n)
	for i := 0; i < n; i++ {
		hits = append(hits, search.VectorHit{
			ID:      fmt.Sprintf("c%d", i),
			Score:   1.0 - float64(i)*0.05,
			Payload: map[string]any{"text": fmt.Sprintf("chunk number %d about revenue", i), "doc_id": "d1"},
		})
	}
	return hits
}

func orgs(names ...string) search.Entities {
	var list []search.Entity
	for _, n := range names {
		list = append(list, search.Entity{Type: search.EntityOrg, Text: n})
	}
	return search.NewEntities(list)
}

func TestVectorAgent_Search(t *testing.T) {
	store := &searchtest.VectorStore{Hits: vectorHits(12)}
	a := NewVector(&searchtest.Embedder{}, store, Limits{TopN: 5, OverFetch: 10})

	results, err := a.Search(context.Background(), "revenue", search.NewEntities(nil))
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.Equal(t, 1, store.CallCount())
	assert.Equal(t, search.SourceVector, results[0].Source)
	assert.Equal(t, StrategyVectorSemantic, results[0].StrategyUsed)
	assert.Equal(t, "c0", results[0].Metadata["id"])
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	perf := a.Performance()
	assert.Equal(t, 1, perf.Invocations)
	assert.Equal(t, 1.0, perf.SuccessRate)
	assert.Equal(t, 2, perf.Priority)
}

func TestVectorAgent_EntityFocused(t *testing.T) {
	var limits []int
	store := &searchtest.VectorStore{SearchFunc: func(ctx context.Context, v []float32, limit int, f map[string]string) ([]search.VectorHit, error) {
		limits = append(limits, limit)
		if limit == entityLimit {
			return []search.VectorHit{{ID: "e", Score: 0.5, Payload: map[string]any{"text": "entity text"}}}, nil
		}
		return vectorHits(1), nil
	}}
	a := NewVector(&searchtest.Embedder{}, store, Limits{})

	results, err := a.Search(context.Background(), "revenue", orgs("Apple"))
	require.NoError(t, err)

	assert.Equal(t, []int{10, 3}, limits)
	require.Len(t, results, 2)
	entity := results[1]
	assert.Equal(t, StrategyEntityFocused, entity.StrategyUsed)
	assert.InDelta(t, 0.4, entity.Score, 1e-9)
	assert.Equal(t, "Apple", entity.Metadata["entity"])
	assert.Equal(t, "ORG", entity.Metadata["entity_type"])
}

func TestVectorAgent_EntityFailureSkipped(t *testing.T) {
	embedder := &searchtest.Embedder{EncodeFunc: func(ctx context.Context, text string) ([]float32, error) {
		if text == "Apple" {
			return nil, errors.New("model down")
		}
		return []float32{1}, nil
	}}
	a := NewVector(embedder, &searchtest.VectorStore{Hits: vectorHits(2)}, Limits{})

	results, err := a.Search(context.Background(), "revenue", orgs("Apple"))
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestVectorAgent_FailureUpdatesPerformance(t *testing.T) {
	store := &searchtest.VectorStore{SearchFunc: func(ctx context.Context, v []float32, limit int, f map[string]string) ([]search.VectorHit, error) {
		return nil, errors.New("milvus unavailable")
	}}
	a := NewVector(&searchtest.Embedder{}, store, Limits{})

	_, err := a.Search(context.Background(), "revenue", nil)
	var dep *search.DependencyError
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, "vector_agent", dep.Component)

	perf := a.Performance()
	assert.InDelta(t, 0.95, perf.SuccessRate, 1e-9)
	assert.Equal(t, 1, perf.Failures)
}

func TestVectorAgent_CancellationNotCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	embedder := &searchtest.Embedder{EncodeFunc: func(ctx context.Context, text string) ([]float32, error) {
		return nil, ctx.Err()
	}}
	a := NewVector(embedder, &searchtest.VectorStore{}, Limits{})

	_, err := a.Search(ctx, "revenue", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, a.Performance().Invocations)
}

func TestGraphAgent_Search(t *testing.T) {
	store := &searchtest.GraphStore{
		Hits: []search.GraphHit{
			{DocID: "d1", DocText: "Apple revenue grew", Question: "What was revenue?", Relevance: 1},
			{DocID: "d2", DocText: "Google revenue revenue", Relevance: 3},
			{DocID: "d3", DocText: "unrelated", Relevance: 0},
		},
		Related: map[string][]search.GraphNeighbor{
			"d2": {{Text: "Alphabet", Relationship: "MENTIONS"}},
			"d1": {{Text: "Cupertino", Relationship: "MENTIONS"}},
			"d3": {{Text: "never expanded", Relationship: "MENTIONS"}},
		},
	}
	a := NewGraph(store, Limits{})

	t.Run("without entities", func(t *testing.T) {
		results, err := a.Search(context.Background(), "revenue", search.NewEntities(nil))
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "d2", results[0].Metadata["doc_id"])
		assert.Equal(t, 3.0, results[0].Score)
		assert.Equal(t, StrategyGraphTraversal, results[0].StrategyUsed)
	})

	t.Run("expands top two hits when entities are present", func(t *testing.T) {
		results, err := a.Search(context.Background(), "revenue", orgs("Google"))
		require.NoError(t, err)
		require.Len(t, results, 5)

		var expanded []search.SearchResult
		for _, r := range results {
			if r.StrategyUsed == StrategyRelationshipExpansion {
				expanded = append(expanded, r)
			}
		}
		require.Len(t, expanded, 2)
		assert.Equal(t, "Alphabet", expanded[0].Content)
		assert.InDelta(t, 2.1, expanded[0].Score, 1e-9)
		assert.Equal(t, "d2", expanded[0].Metadata["original_doc_id"])
		assert.InDelta(t, 0.7, expanded[1].Score, 1e-9)
	})
}

func TestHybridAgent(t *testing.T) {
	vector := &searchtest.Agent{AgentName: NameVector, Results: []search.SearchResult{
		{Content: "apple revenue grew in 2023", Score: 0.9, Source: search.SourceVector},
		{Content: "google cloud margins", Score: 0.5, Source: search.SourceVector},
	}}
	graph := &searchtest.Agent{AgentName: NameGraph, Results: []search.SearchResult{
		{Content: "Apple revenue grew in 2023", Score: 2, Source: search.SourceGraph},
		{Content: "services segment", Score: 0.8, Source: search.SourceGraph},
	}}

	t.Run("boost", func(t *testing.T) {
		a := NewHybrid(vector, graph, HybridConfig{})
		results, err := a.Search(context.Background(), "revenue", nil)
		require.NoError(t, err)
		require.Len(t, results, 3)

		assert.Equal(t, "apple revenue grew in 2023", results[0].Content)
		assert.InDelta(t, 0.99, results[0].Score, 1e-9)
		assert.Equal(t, search.SourceHybrid, results[0].Source)
		assert.Equal(t, "vector", results[0].Metadata["origin"])
		assert.Equal(t, "services segment", results[1].Content)
		assert.Equal(t, "graph", results[1].Metadata["origin"])
	})

	t.Run("weighted", func(t *testing.T) {
		a := NewHybrid(vector, graph, HybridConfig{Mode: ModeWeighted})
		results, err := a.Search(context.Background(), "revenue", nil)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.InDelta(t, 0.63, results[0].Score, 1e-9)
		assert.InDelta(t, 0.35, results[1].Score, 1e-9)
		assert.InDelta(t, 0.24, results[2].Score, 1e-9)
	})

	t.Run("inputs are not mutated", func(t *testing.T) {
		assert.Equal(t, 0.9, vector.Results[0].Score)
		assert.Nil(t, vector.Results[0].Metadata)
	})
}

func TestHybridAgent_PartialFailure(t *testing.T) {
	failing := &searchtest.Agent{AgentName: NameGraph, SearchFunc: func(ctx context.Context, q string, e search.Entities) ([]search.SearchResult, error) {
		return nil, search.Dependency("graph_agent", "query", errors.New("neo4j down"))
	}}
	vector := &searchtest.Agent{AgentName: NameVector, Results: []search.SearchResult{{Content: "only vector", Score: 1, Source: search.SourceVector}}}

	a := NewHybrid(vector, failing, HybridConfig{})
	results, err := a.Search(context.Background(), "q", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	both := NewHybrid(failing, failing, HybridConfig{})
	_, err = both.Search(context.Background(), "q", nil)
	var dep *search.DependencyError
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, "hybrid_agent", dep.Component)
	assert.Equal(t, 1, both.Performance().Failures)
	assert.Equal(t, 3, both.Performance().Priority)
}
