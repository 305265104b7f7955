package agents

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/pkg/logger"
)

const (
	expandFrom      = 2
	expansionLimit  = 3
	expansionWeight = 0.7
)

// GraphAgent matches query text against document/question nodes and, when the
// query carries entities, follows one-hop relationships from the best hits.
type GraphAgent struct {
	store   search.GraphStore
	limits  Limits
	tracker *tracker
}

func NewGraph(store search.GraphStore, limits Limits) *GraphAgent {
	return &GraphAgent{
		store:   store,
		limits:  limits.withDefaults(),
		tracker: newTracker(NameGraph, 2),
	}
}

func (a *GraphAgent) Name() string { return NameGraph }

func (a *GraphAgent) Performance() search.AgentPerformance { return a.tracker.snapshot() }

func (a *GraphAgent) Search(ctx context.Context, query string, entities search.Entities) (results []search.SearchResult, err error) {
	start := time.Now()
	defer func() { a.tracker.record(start, err) }()

	hits, err := a.store.Query(ctx, query, a.limits.OverFetch)
	if err != nil {
		return nil, search.Dependency("graph_agent", "query", err)
	}

	main := make([]search.SearchResult, 0, len(hits))
	for _, h := range hits {
		main = append(main, search.SearchResult{
			Content:      h.DocText,
			Score:        float64(h.Relevance),
			Source:       search.SourceGraph,
			StrategyUsed: StrategyGraphTraversal,
			Metadata: map[string]any{
				"doc_id":    h.DocID,
				"question":  h.Question,
				"answer":    h.Answer,
				"relevance": h.Relevance,
			},
		})
	}
	search.SortByScore(main)
	results = main

	if len(main) > 0 && !entities.Empty() {
		results = append(results, a.expand(ctx, query, main[:min(expandFrom, len(main))])...)
	}

	return top(results, a.limits.TopN), nil
}

func (a *GraphAgent) expand(ctx context.Context, query string, seeds []search.SearchResult) []search.SearchResult {
	var out []search.SearchResult
	for _, seed := range seeds {
		docID, _ := seed.Metadata["doc_id"].(string)
		if docID == "" || ctx.Err() != nil {
			continue
		}
		neighbors, err := a.store.Neighbors(ctx, docID, query, expansionLimit)
		if err != nil {
			logger.Warn("Relationship expansion failed",
				zap.String("doc_id", docID),
				zap.Error(search.Dependency("graph_agent", "neighbors", err)),
			)
			continue
		}
		for _, n := range neighbors {
			out = append(out, search.SearchResult{
				Content:      n.Text,
				Score:        seed.Score * expansionWeight,
				Source:       search.SourceGraph,
				StrategyUsed: StrategyRelationshipExpansion,
				Metadata: map[string]any{
					"original_doc_id":   docID,
					"relationship_type": n.Relationship,
				},
			})
		}
	}
	return out
}
