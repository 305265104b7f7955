// Package agents implements the retrieval strategies the orchestrator dispatches to.
package agents

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adaptive-search/backend/internal/metrics"
	"github.com/adaptive-search/backend/internal/search"
)

const (
	NameVector = "vector"
	NameGraph  = "graph"
	NameHybrid = "hybrid"
)

const (
	StrategyVectorSemantic        = "vector_semantic"
	StrategyEntityFocused         = "entity_focused"
	StrategyGraphTraversal        = "graph_traversal"
	StrategyRelationshipExpansion = "relationship_expansion"
)

// Agent is one retrieval strategy. Search returns at most the configured top N
// results ordered by descending score.
type Agent interface {
	Name() string
	Search(ctx context.Context, query string, entities search.Entities) ([]search.SearchResult, error)
	Performance() search.AgentPerformance
}

// Limits bound how many candidates an agent fetches and returns.
type Limits struct {
	TopN      int
	OverFetch int
}

func (l Limits) withDefaults() Limits {
	if l.TopN <= 0 {
		l.TopN = 5
	}
	if l.OverFetch < l.TopN {
		l.OverFetch = max(10, l.TopN)
	}
	return l
}

type tracker struct {
	mu   sync.Mutex
	perf search.AgentPerformance
}

func newTracker(name string, priority int) *tracker {
	return &tracker{perf: search.AgentPerformance{Name: name, Priority: priority, SuccessRate: 1.0}}
}

// record updates performance after a call. Caller cancellation is not held
// against the agent.
func (t *tracker) record(start time.Time, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	elapsed := time.Since(start)

	t.mu.Lock()
	t.perf.Record(elapsed, err == nil)
	name := t.perf.Name
	t.mu.Unlock()

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.AgentExecutions.WithLabelValues(name, status).Inc()
	metrics.AgentDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (t *tracker) snapshot() search.AgentPerformance {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perf
}

func top(results []search.SearchResult, n int) []search.SearchResult {
	search.SortByScore(results)
	if len(results) > n {
		results = results[:n]
	}
	return results
}

func copyMetadata(in map[string]any, extra int) map[string]any {
	out := make(map[string]any, len(in)+extra)
	for k, v := range in {
		out[k] = v
	}
	return out
}
