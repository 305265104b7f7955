package agents

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/pkg/logger"
)

const (
	ModeBoost    = "boost"
	ModeWeighted = "weighted"
)

// HybridConfig selects how vector and graph scores are combined.
// In boost mode vector scores are multiplied by VectorBoost and graph scores
// are kept; in weighted mode each side is multiplied by its weight.
type HybridConfig struct {
	Mode           string
	VectorBoost    float64
	VectorWeight   float64
	GraphWeight    float64
	DedupThreshold float64
	TopN           int
}

func (c HybridConfig) withDefaults() HybridConfig {
	if c.Mode == "" {
		c.Mode = ModeBoost
	}
	if c.VectorBoost == 0 {
		c.VectorBoost = 1.1
	}
	if c.VectorWeight == 0 && c.GraphWeight == 0 {
		c.VectorWeight, c.GraphWeight = 0.7, 0.3
	}
	if c.DedupThreshold == 0 {
		c.DedupThreshold = 0.8
	}
	if c.TopN <= 0 {
		c.TopN = 5
	}
	return c
}

// HybridAgent runs the vector and graph agents concurrently and fuses their
// results. It fails only when both sides fail.
type HybridAgent struct {
	vector  Agent
	graph   Agent
	cfg     HybridConfig
	tracker *tracker
}

func NewHybrid(vector, graph Agent, cfg HybridConfig) *HybridAgent {
	return &HybridAgent{
		vector:  vector,
		graph:   graph,
		cfg:     cfg.withDefaults(),
		tracker: newTracker(NameHybrid, 3),
	}
}

func (a *HybridAgent) Name() string { return NameHybrid }

func (a *HybridAgent) Performance() search.AgentPerformance { return a.tracker.snapshot() }

func (a *HybridAgent) Search(ctx context.Context, query string, entities search.Entities) (results []search.SearchResult, err error) {
	start := time.Now()
	defer func() { a.tracker.record(start, err) }()

	var (
		vectorResults, graphResults []search.SearchResult
		vectorErr, graphErr         error
	)

	var g errgroup.Group
	g.Go(func() error {
		vectorResults, vectorErr = a.vector.Search(ctx, query, entities)
		return nil
	})
	g.Go(func() error {
		graphResults, graphErr = a.graph.Search(ctx, query, entities)
		return nil
	})
	_ = g.Wait()

	if vectorErr != nil && graphErr != nil {
		return nil, search.Dependency("hybrid_agent", "search", errors.Join(vectorErr, graphErr))
	}
	if vectorErr != nil {
		logger.Warn("Hybrid search continuing without vector results", zap.Error(vectorErr))
	}
	if graphErr != nil {
		logger.Warn("Hybrid search continuing without graph results", zap.Error(graphErr))
	}

	return a.combine(vectorResults, graphResults), nil
}

func (a *HybridAgent) combine(vectorResults, graphResults []search.SearchResult) []search.SearchResult {
	vectorFactor, graphFactor := a.cfg.VectorBoost, 1.0
	if a.cfg.Mode == ModeWeighted {
		vectorFactor, graphFactor = a.cfg.VectorWeight, a.cfg.GraphWeight
	}

	all := make([]search.SearchResult, 0, len(vectorResults)+len(graphResults))
	add := func(r search.SearchResult, factor float64) {
		for _, existing := range all {
			if search.Jaccard(existing.Content, r.Content) > a.cfg.DedupThreshold {
				return
			}
		}
		md := copyMetadata(r.Metadata, 1)
		md["origin"] = string(r.Source)
		r.Metadata = md
		r.Score *= factor
		r.Source = search.SourceHybrid
		all = append(all, r)
	}

	for _, r := range vectorResults {
		add(r, vectorFactor)
	}
	for _, r := range graphResults {
		add(r, graphFactor)
	}

	return top(all, a.cfg.TopN)
}
