// Package controller is the entry point of the search engine. It drives a
// query through rewrite, optimization, agent retrieval and topic ranking,
// tracks sessions and feeds user reactions back into the optimizer.
package controller

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/metrics"
	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/search/optimizer"
	"github.com/adaptive-search/backend/internal/search/orchestrator"
	"github.com/adaptive-search/backend/internal/search/rewriter"
	"github.com/adaptive-search/backend/internal/search/topics"
	"github.com/adaptive-search/backend/internal/search/worker"
	"github.com/adaptive-search/backend/internal/storage"
	"github.com/adaptive-search/backend/internal/storage/models"
	"github.com/adaptive-search/backend/pkg/logger"
)

const (
	maxQueryLength     = 5000
	maxSessionIDLength = 128
)

type Config struct {
	TopN int
	// SessionSuccessRequiresRating makes a session successful only when a
	// click comes with a rating of at least SuccessRatingThreshold.
	SessionSuccessRequiresRating bool
	SuccessRatingThreshold       int
	TopicModelPath               string
}

func (c Config) withDefaults() Config {
	if c.TopN <= 0 {
		c.TopN = 5
	}
	if c.SuccessRatingThreshold <= 0 {
		c.SuccessRatingThreshold = 4
	}
	return c
}

// Deps are the pipeline stages and the stores behind them. Ranker may be nil.
type Deps struct {
	Rewriter     *rewriter.Rewriter
	Optimizer    *optimizer.Optimizer
	Orchestrator *orchestrator.Orchestrator
	Ranker       *topics.Ranker
	Store        storage.Store
	Queue        *worker.Queue
}

type Controller struct {
	rewriter     *rewriter.Rewriter
	optimizer    *optimizer.Optimizer
	orchestrator *orchestrator.Orchestrator
	ranker       *topics.Ranker
	store        storage.Store
	queue        *worker.Queue
	sessions     *sessionTracker
	cfg          Config
	now          func() time.Time
}

func New(deps Deps, cfg Config) *Controller {
	c := &Controller{
		rewriter:     deps.Rewriter,
		optimizer:    deps.Optimizer,
		orchestrator: deps.Orchestrator,
		ranker:       deps.Ranker,
		store:        deps.Store,
		queue:        deps.Queue,
		cfg:          cfg.withDefaults(),
		now:          time.Now,
	}
	if c.ranker == nil {
		c.ranker = topics.New(nil, topics.Config{})
	}
	if c.queue == nil {
		c.queue = worker.New(worker.Config{})
	}
	c.sessions = newSessionTracker(c.now)
	return c
}

func validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return &search.ValidationError{Field: "query", Message: "must not be blank"}
	}
	if utf8.RuneCountInString(query) > maxQueryLength {
		return &search.ValidationError{Field: "query", Message: fmt.Sprintf("must be at most %d characters", maxQueryLength)}
	}
	return nil
}

func validateSessionID(id string) error {
	if len(id) > maxSessionIDLength {
		return &search.ValidationError{Field: "session_id", Message: fmt.Sprintf("must be at most %d characters", maxSessionIDLength)}
	}
	return nil
}

// Search runs the full pipeline. It never returns nil and never panics.
func (c *Controller) Search(ctx context.Context, req SearchRequest) (resp *SearchResponse) {
	start := c.now()
	resp = &SearchResponse{
		SessionID:        req.SessionID,
		QueryProcessing:  QueryProcessing{OriginalQuery: req.Query},
		SearchResults:    []Result{},
		QuerySuggestions: []string{},
		Metadata:         Diagnostics{AgentsSelected: []string{}, AgentsUsed: []string{}},
	}

	validated := false
	intent := "unknown"
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Search pipeline panicked",
				zap.Any("panic", r),
				zap.String("query", req.Query),
			)
			resp.fail(fmt.Errorf("internal error: %v", r))
		}
		resp.Metadata.ProcessingTimeMS = c.now().Sub(start).Milliseconds()

		status := "ok"
		if resp.ErrorKind != "" {
			status = resp.ErrorKind
		}
		metrics.SearchTotal.WithLabelValues(status).Inc()
		metrics.SearchDuration.WithLabelValues(intent).Observe(c.now().Sub(start).Seconds())
		metrics.SearchResultsCount.Observe(float64(len(resp.SearchResults)))

		if validated {
			c.recordQuery(req, resp)
		}
	}()

	if err := validateQuery(req.Query); err != nil {
		resp.fail(err)
		return resp
	}
	if err := validateSessionID(req.SessionID); err != nil {
		resp.fail(err)
		return resp
	}
	validated = true

	if ctx.Err() != nil {
		resp.fail(search.ErrCancelled)
		return resp
	}

	rw := c.rewriter.Rewrite(ctx, req.Query, req.ContextEntities)
	intent = string(rw.Intent)
	qp := &resp.QueryProcessing
	qp.RewrittenQuery = rw.RewrittenQuery
	qp.ExpandedQueries = rw.ExpandedQueries
	qp.Entities = rw.Entities
	qp.Intent = rw.Intent
	resp.Metadata.RewriteConfidence = rw.Confidence
	resp.QuerySuggestions = rw.Variations

	opt := c.optimizer.Optimize(rw.RewrittenQuery, rw.Entities)
	qp.OptimizedQuery = opt.OptimizedQuery
	qp.OptimizationsApplied = opt.OptimizationsApplied
	resp.Metadata.OptimizationConfidence = opt.Confidence
	resp.Metadata.ExpectedImprovement = opt.ExpectedImprovement

	exec, err := c.orchestrator.Execute(ctx, opt.OptimizedQuery, rw.Intent, rw.Entities)
	if err != nil {
		resp.fail(err)
		return resp
	}
	resp.Metadata.AgentsSelected = exec.Selected
	resp.Metadata.AgentsUsed = exec.Contributed
	if len(exec.Failed) > 0 {
		resp.Metadata.AgentsFailed = exec.Failed
	}

	ranked, enhanced := c.ranker.Rank(ctx, req.Query, exec.Results)
	resp.Metadata.TopicEnhanced = enhanced
	resp.Metadata.TotalResults = len(ranked)
	if enhanced {
		metrics.TopicEnhanced.Inc()
	}
	for _, r := range ranked[:min(c.cfg.TopN, len(ranked))] {
		resp.SearchResults = append(resp.SearchResults, Result{
			Content:       r.Content,
			Score:         r.FinalScore,
			Source:        r.Source,
			Strategy:      r.StrategyUsed,
			Metadata:      r.Metadata,
			OriginalScore: r.OriginalScore,
			TopicScore:    r.TopicScore,
			TopicIDs:      r.TopicIDs,
		})
	}

	if req.SessionID != "" {
		scores := make([]float64, len(resp.SearchResults))
		for i, r := range resp.SearchResults {
			scores[i] = r.Score
		}
		c.sessions.recordQuery(req.SessionID, req.UserID, req.Query, scores)
	}

	logger.Info("Search completed",
		zap.String("intent", intent),
		zap.Strings("agents", resp.Metadata.AgentsUsed),
		zap.Int("results", resp.Metadata.TotalResults),
		zap.Bool("topic_enhanced", enhanced),
	)
	return resp
}

// recordQuery persists a history row through the background queue.
func (c *Controller) recordQuery(req SearchRequest, resp *SearchResponse) {
	record := &models.QueryRecord{
		ID:             uuid.NewString(),
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		QueryText:      req.Query,
		OptimizedQuery: resp.QueryProcessing.OptimizedQuery,
		Intent:         string(resp.QueryProcessing.Intent),
		ResultCount:    resp.Metadata.TotalResults,
		AgentsUsed:     append([]string{}, resp.Metadata.AgentsUsed...),
		TopicEnhanced:  resp.Metadata.TopicEnhanced,
		LatencyMS:      resp.Metadata.ProcessingTimeMS,
		Error:          resp.Error,
		CreatedAt:      c.now().UTC(),
	}
	c.queue.Submit("store_query", func(ctx context.Context) error {
		return c.store.InsertQueryRecord(ctx, record)
	})
}

// OptimizeOnly rewrites and optimizes a query without retrieving anything.
func (c *Controller) OptimizeOnly(ctx context.Context, query string) (resp *OptimizeResponse) {
	resp = &OptimizeResponse{Original: query, Variations: []string{}}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Query optimization panicked", zap.Any("panic", r))
			resp.Error = fmt.Sprintf("internal error: %v", r)
			resp.ErrorKind = KindInternal
		}
	}()

	if err := validateQuery(query); err != nil {
		resp.Error, resp.ErrorKind = err.Error(), KindValidation
		return resp
	}

	rw := c.rewriter.Rewrite(ctx, query, nil)
	opt := c.optimizer.Optimize(rw.RewrittenQuery, rw.Entities)

	resp.Rewritten = rw.RewrittenQuery
	resp.Optimized = opt.OptimizedQuery
	resp.Entities = rw.Entities
	resp.Intent = rw.Intent
	resp.Confidence = rw.Confidence
	resp.Variations = rw.Variations
	resp.OptimizationsApplied = opt.OptimizationsApplied
	resp.ExpectedImprovement = opt.ExpectedImprovement
	return resp
}

// Suggestions returns alternative phrasings of a partially typed query.
func (c *Controller) Suggestions(ctx context.Context, partial string) ([]string, error) {
	if err := validateQuery(partial); err != nil {
		return nil, err
	}
	return c.rewriter.Suggestions(ctx, partial), nil
}

// Close waits for queued writes and stops the background queue.
func (c *Controller) Close() {
	c.queue.Close()
}
