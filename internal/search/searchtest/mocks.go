// Package searchtest provides test doubles for the collaborator interfaces
// in package search.
//
// Each double exposes function fields for custom behaviour and falls back to
// deterministic defaults when they are nil:
//
//	emb := &searchtest.Embedder{}
//	vec, _ := emb.Encode(ctx, "revenue") // same vector for the same text
//
//	store := &searchtest.VectorStore{
//	    SearchFunc: func(ctx context.Context, v []float32, limit int, f map[string]string) ([]search.VectorHit, error) {
//	        return nil, errors.New("down")
//	    },
//	}
package searchtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adaptive-search/backend/internal/search"
)

// Embedder is a test double for search.Embedder.
type Embedder struct {
	EncodeFunc func(ctx context.Context, text string) ([]float32, error)
	Dim        int

	calls atomic.Int64
}

func (m *Embedder) Encode(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if m.EncodeFunc != nil {
		return m.EncodeFunc(ctx, text)
	}
	dim := m.Dim
	if dim == 0 {
		dim = 8
	}
	return DeterministicVector(text, dim), nil
}

func (m *Embedder) CallCount() int { return int(m.calls.Load()) }

// DeterministicVector derives a unit-free vector from an FNV hash of text.
func DeterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	for i := range vector {
		seed = seed*1664525 + 1013904223
		vector[i] = float32(seed%1000) / 1000.0
	}
	return vector
}

// Extractor is a test double for search.EntityExtractor. By default it
// reports every capitalised word listed in Orgs as an ORG.
type Extractor struct {
	ExtractFunc func(ctx context.Context, text string) ([]search.Entity, error)
	Orgs        []string

	calls atomic.Int64
}

func (m *Extractor) Extract(ctx context.Context, text string) ([]search.Entity, error) {
	m.calls.Add(1)
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, text)
	}
	var out []search.Entity
	for _, word := range strings.Fields(text) {
		for _, org := range m.Orgs {
			if word == org {
				out = append(out, search.Entity{Type: search.EntityOrg, Text: word})
			}
		}
	}
	return out, nil
}

func (m *Extractor) CallCount() int { return int(m.calls.Load()) }

// Completion is a test double for search.Completion. Reply is returned when
// GenerateFunc is nil.
type Completion struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	Reply        string

	mu      sync.Mutex
	prompts []string
}

func (m *Completion) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return m.Reply, nil
}

func (m *Completion) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Classifier is a test double for search.Classifier. Without ZeroShotFunc it
// gives Label a score of 0.9 and spreads the rest evenly.
type Classifier struct {
	ZeroShotFunc func(ctx context.Context, text string, labels []string) (map[string]float64, error)
	Label        string

	calls atomic.Int64
}

func (m *Classifier) ZeroShot(ctx context.Context, text string, labels []string) (map[string]float64, error) {
	m.calls.Add(1)
	if m.ZeroShotFunc != nil {
		return m.ZeroShotFunc(ctx, text, labels)
	}
	scores := make(map[string]float64, len(labels))
	rest := 0.1 / float64(max(1, len(labels)-1))
	for _, l := range labels {
		if l == m.Label {
			scores[l] = 0.9
		} else {
			scores[l] = rest
		}
	}
	return scores, nil
}

func (m *Classifier) CallCount() int { return int(m.calls.Load()) }

// VectorStore is a test double for search.VectorStore. Hits are returned,
// truncated to limit, when SearchFunc is nil.
type VectorStore struct {
	SearchFunc func(ctx context.Context, vector []float32, limit int, filter map[string]string) ([]search.VectorHit, error)
	Hits       []search.VectorHit

	calls atomic.Int64
}

func (m *VectorStore) Search(ctx context.Context, vector []float32, limit int, filter map[string]string) ([]search.VectorHit, error) {
	m.calls.Add(1)
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, vector, limit, filter)
	}
	return truncate(m.Hits, limit), nil
}

func (m *VectorStore) CallCount() int { return int(m.calls.Load()) }

// GraphStore is a test double for search.GraphStore.
type GraphStore struct {
	QueryFunc     func(ctx context.Context, matchText string, limit int) ([]search.GraphHit, error)
	NeighborsFunc func(ctx context.Context, docID, matchText string, limit int) ([]search.GraphNeighbor, error)
	Hits          []search.GraphHit
	Related       map[string][]search.GraphNeighbor

	calls atomic.Int64
}

func (m *GraphStore) Query(ctx context.Context, matchText string, limit int) ([]search.GraphHit, error) {
	m.calls.Add(1)
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, matchText, limit)
	}
	return truncate(m.Hits, limit), nil
}

func (m *GraphStore) Neighbors(ctx context.Context, docID, matchText string, limit int) ([]search.GraphNeighbor, error) {
	m.calls.Add(1)
	if m.NeighborsFunc != nil {
		return m.NeighborsFunc(ctx, docID, matchText, limit)
	}
	return truncate(m.Related[docID], limit), nil
}

func (m *GraphStore) CallCount() int { return int(m.calls.Load()) }

// Agent is a retrieval agent double. It satisfies the orchestrator's agent
// interface without importing it.
type Agent struct {
	AgentName  string
	SearchFunc func(ctx context.Context, query string, entities search.Entities) ([]search.SearchResult, error)
	Results    []search.SearchResult
	Delay      time.Duration

	mu    sync.Mutex
	perf  search.AgentPerformance
	calls int
}

func (m *Agent) Name() string { return m.AgentName }

func (m *Agent) Search(ctx context.Context, query string, entities search.Entities) ([]search.SearchResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query, entities)
	}
	return append([]search.SearchResult(nil), m.Results...), nil
}

func (m *Agent) Performance() search.AgentPerformance {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.perf
	p.Name = m.AgentName
	if p.Invocations == 0 && p.SuccessRate == 0 {
		p.SuccessRate = 1
	}
	return p
}

func (m *Agent) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func truncate[T any](items []T, limit int) []T {
	if limit >= 0 && len(items) > limit {
		items = items[:limit]
	}
	return append([]T(nil), items...)
}
