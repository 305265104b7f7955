package controller

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/search/agents"
	"github.com/adaptive-search/backend/internal/search/optimizer"
	"github.com/adaptive-search/backend/internal/search/orchestrator"
	"github.com/adaptive-search/backend/internal/search/rewriter"
	"github.com/adaptive-search/backend/internal/search/searchtest"
	"github.com/adaptive-search/backend/internal/search/topics"
	"github.com/adaptive-search/backend/internal/search/worker"
	"github.com/adaptive-search/backend/internal/storage/badger"
	"github.com/adaptive-search/backend/internal/storage/models"
)

type fixture struct {
	controller *Controller
	store      *badger.Backend
	extractor  *searchtest.Extractor
	hybrid     *searchtest.Agent
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := badger.Open("", true)
	require.NoError(t, err)

	queue := worker.New(worker.Config{})
	opt, err := optimizer.New(ctx, store, optimizer.WithQueue(queue))
	require.NoError(t, err)

	extractor := &searchtest.Extractor{Orgs: []string{"Apple", "Google"}}
	completion := &searchtest.Completion{Reply: "1. Apple vs Google revenue\n2. revenue comparison"}

	vector := &searchtest.Agent{AgentName: agents.NameVector, Results: []search.SearchResult{
		{Content: "Apple revenue reached 383 billion", Score: 0.9, Source: search.SourceVector, StrategyUsed: agents.StrategyVectorSemantic},
	}}
	graph := &searchtest.Agent{AgentName: agents.NameGraph, Results: []search.SearchResult{
		{Content: "Google revenue reached 307 billion", Score: 1.5, Source: search.SourceGraph, StrategyUsed: agents.StrategyGraphTraversal},
	}}
	hybrid := &searchtest.Agent{AgentName: agents.NameHybrid, Results: []search.SearchResult{
		{Content: "Invoice 1001 for consulting services", Score: 0.8, Source: search.SourceHybrid},
		{Content: "Invoice 1002 for hardware", Score: 0.6, Source: search.SourceHybrid},
	}}
	orch, err := orchestrator.New([]agents.Agent{vector, graph, hybrid}, 4)
	require.NoError(t, err)

	c := New(Deps{
		Rewriter:     rewriter.New(extractor, completion),
		Optimizer:    opt,
		Orchestrator: orch,
		Ranker:       topics.New(nil, topics.Config{NumTopics: 2, Iterations: 50}),
		Store:        store,
		Queue:        queue,
	}, cfg)

	t.Cleanup(func() {
		c.Close()
		orch.Release()
		_ = store.Close()
	})
	return &fixture{controller: c, store: store, extractor: extractor, hybrid: hybrid}
}

func rating(v int) *int { return &v }

func TestSearch_ComparisonScenario(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.controller.Search(context.Background(), SearchRequest{Query: "compare revenue Apple Google"})
	require.Empty(t, resp.Error)

	qp := resp.QueryProcessing
	assert.Equal(t, search.IntentComparison, qp.Intent)
	assert.Equal(t, []string{"Apple", "Google"}, qp.Entities[search.EntityOrg])
	assert.Contains(t, qp.RewrittenQuery, "Include results for organizations: Apple, Google")
	assert.Equal(t, qp.RewrittenQuery, qp.OptimizedQuery)

	assert.Equal(t, []string{"vector", "graph"}, resp.Metadata.AgentsSelected)
	assert.Equal(t, []string{"vector", "graph"}, resp.Metadata.AgentsUsed)
	assert.False(t, resp.Metadata.TopicEnhanced)
	assert.Equal(t, 2, resp.Metadata.TotalResults)
	require.Len(t, resp.SearchResults, 2)
	assert.Equal(t, "Google revenue reached 307 billion", resp.SearchResults[0].Content)
	assert.Equal(t, resp.SearchResults[0].OriginalScore, resp.SearchResults[0].Score)
	assert.Equal(t, []string{"Apple vs Google revenue", "revenue comparison"}, resp.QuerySuggestions)
	assert.Equal(t, 1.0, resp.Metadata.RewriteConfidence)

	f.controller.Drain()
	records, err := f.store.ListQueryRecords(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "comparison", records[0].Intent)
	assert.Equal(t, []string{"vector", "graph"}, records[0].AgentsUsed)
}

func TestSearch_Validation(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		name string
		req  SearchRequest
	}{
		{"blank query", SearchRequest{Query: "   "}},
		{"query too long", SearchRequest{Query: strings.Repeat("a", maxQueryLength+1)}},
		{"session id too long", SearchRequest{Query: "ok", SessionID: strings.Repeat("s", maxSessionIDLength+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.controller.Search(context.Background(), tt.req)
			assert.Equal(t, KindValidation, resp.ErrorKind)
			assert.NotEmpty(t, resp.Error)
			assert.NotNil(t, resp.SearchResults)
		})
	}

	f.controller.Drain()
	records, err := f.store.ListQueryRecords(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, f.hybrid.CallCount())
}

func TestSearch_Cancelled(t *testing.T) {
	f := newFixture(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := f.controller.Search(ctx, SearchRequest{Query: "find invoice"})
	assert.Equal(t, KindCancelled, resp.ErrorKind)
	assert.Empty(t, resp.SearchResults)
}

func TestSearch_RecoversFromPanics(t *testing.T) {
	f := newFixture(t, Config{})
	f.extractor.ExtractFunc = func(ctx context.Context, text string) ([]search.Entity, error) {
		panic("tokenizer state corrupted")
	}

	resp := f.controller.Search(context.Background(), SearchRequest{Query: "find invoice"})
	assert.Equal(t, KindInternal, resp.ErrorKind)
	assert.Contains(t, resp.Error, "tokenizer state corrupted")
	assert.Equal(t, "find invoice", resp.QueryProcessing.OriginalQuery)
}

func TestSearch_TopicEnhancedAfterFit(t *testing.T) {
	f := newFixture(t, Config{})
	corpus := []string{
		"Invoice totals for consulting services and hardware purchases.",
		"Consulting invoice paid after the hardware invoice was approved.",
		"Quarterly revenue grew for Apple and Google.",
		"Revenue reports compare Apple and Google growth.",
	}
	require.NoError(t, f.controller.FitTopics(context.Background(), corpus))

	resp := f.controller.Search(context.Background(), SearchRequest{Query: "find invoice"})
	require.Empty(t, resp.Error)
	assert.True(t, resp.Metadata.TopicEnhanced)
	require.NotEmpty(t, resp.SearchResults)
	for _, r := range resp.SearchResults {
		want := 0.6*r.OriginalScore + 0.3*r.TopicScore + 0.1*r.Metadata["domain_match"].(float64)
		assert.InDelta(t, want, r.Score, 1e-9)
	}

	metrics := f.controller.PerformanceMetrics(context.Background())
	assert.True(t, metrics.TopicsFitted)
	assert.Len(t, metrics.TopicSummary, 2)
}

func TestRecordFeedback_FindInvoiceScenario(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.controller.RecordFeedback(ctx, FeedbackRequest{Query: "find invoice", ClickedResults: []int{}}))
	}
	f.controller.Drain()

	p, err := f.store.GetPattern(ctx, "refinement:find-invoice")
	require.NoError(t, err)
	assert.Equal(t, 3, p.UsageCount)
	assert.Equal(t, 0.0, p.SuccessRate)

	feedback, err := f.store.ListFeedback(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, feedback, 3)
}

func TestRecordFeedback_Validation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	assert.True(t, search.IsValidation(f.controller.RecordFeedback(ctx, FeedbackRequest{Query: ""})))
	assert.True(t, search.IsValidation(f.controller.RecordFeedback(ctx, FeedbackRequest{Query: "q", Satisfaction: rating(6)})))
	assert.True(t, search.IsValidation(f.controller.RecordFeedback(ctx, FeedbackRequest{Query: "q", ClickedResults: []int{-1}})))
	assert.True(t, search.IsValidation(f.controller.RecordFeedback(ctx, FeedbackRequest{Query: "q", SessionID: strings.Repeat("x", 200)})))
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	id := f.controller.StartSession("user-1")
	require.NotEmpty(t, id)
	assert.Equal(t, 1, f.controller.PerformanceMetrics(ctx).ActiveSessions)

	resp := f.controller.Search(ctx, SearchRequest{Query: "find invoice", SessionID: id})
	require.Empty(t, resp.Error)
	require.Len(t, resp.SearchResults, 2)

	require.NoError(t, f.controller.RecordFeedback(ctx, FeedbackRequest{
		SessionID:      id,
		Query:          "find invoice",
		ClickedResults: []int{0},
		Satisfaction:   rating(5),
	}))

	open, ok := f.controller.Session(id)
	require.True(t, ok)
	assert.Equal(t, []string{"find invoice"}, open.Queries)
	assert.Equal(t, []int{0}, open.ClickedResults)
	require.NotNil(t, open.SatisfactionScore)
	assert.InDelta(t, 0.75, *open.SatisfactionScore, 1e-9)
	assert.True(t, open.Success)

	ended, err := f.controller.EndSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, "user-1", ended.UserID)

	f.controller.Drain()
	stored, err := f.store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"find invoice"}, stored.Queries)
	assert.True(t, stored.Success)

	metrics := f.controller.PerformanceMetrics(ctx)
	assert.Zero(t, metrics.ActiveSessions)
	assert.InDelta(t, 0.75, metrics.Optimizer.AvgSatisfaction, 1e-9)

	_, ok = f.controller.Session(id)
	assert.False(t, ok)
	_, err = f.controller.EndSession(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionSuccessPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("clicks only by default", func(t *testing.T) {
		f := newFixture(t, Config{})
		id := f.controller.StartSession("")
		require.NoError(t, f.controller.RecordFeedback(ctx, FeedbackRequest{SessionID: id, Query: "q", ClickedResults: []int{1}, ResultCount: 4}))
		s, _ := f.controller.Session(id)
		assert.True(t, s.Success)
		assert.InDelta(t, (0.25+0.6)/2, *s.SatisfactionScore, 1e-9)
	})

	t.Run("rating required when configured", func(t *testing.T) {
		f := newFixture(t, Config{SessionSuccessRequiresRating: true, SuccessRatingThreshold: 4})
		id := f.controller.StartSession("")
		require.NoError(t, f.controller.RecordFeedback(ctx, FeedbackRequest{SessionID: id, Query: "q", ClickedResults: []int{1}, Satisfaction: rating(3)}))
		s, _ := f.controller.Session(id)
		assert.False(t, s.Success)

		require.NoError(t, f.controller.RecordFeedback(ctx, FeedbackRequest{SessionID: id, Query: "q", ClickedResults: []int{0}, Satisfaction: rating(4)}))
		s, _ = f.controller.Session(id)
		assert.True(t, s.Success)
	})
}

func TestRecordFeedback_UnknownSessionIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.controller.RecordFeedback(ctx, FeedbackRequest{
		SessionID:      "never-started",
		Query:          "find invoice",
		ClickedResults: []int{0},
		Satisfaction:   rating(5),
	}))

	_, ok := f.controller.Session("never-started")
	assert.False(t, ok)
	assert.Zero(t, f.controller.PerformanceMetrics(ctx).ActiveSessions)
}

func TestOptimizeOnly(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.controller.OptimizeOnly(context.Background(), "revenue")
	require.Empty(t, resp.Error)
	assert.Equal(t, "revenue", resp.Original)
	assert.Equal(t, "Search for documents containing information about revenue", resp.Rewritten)
	assert.Equal(t, resp.Rewritten, resp.Optimized)
	assert.Equal(t, search.IntentGeneral, resp.Intent)
	assert.Len(t, resp.Variations, 2)
	assert.Zero(t, f.hybrid.CallCount())

	bad := f.controller.OptimizeOnly(context.Background(), "")
	assert.Equal(t, KindValidation, bad.ErrorKind)
}

func TestSuggestions(t *testing.T) {
	f := newFixture(t, Config{})

	got, err := f.controller.Suggestions(context.Background(), "apple rev")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = f.controller.Suggestions(context.Background(), " ")
	assert.True(t, search.IsValidation(err))
}

func TestPatternExportImport(t *testing.T) {
	ctx := context.Background()
	src := newFixture(t, Config{})
	for i := 0; i < 2; i++ {
		require.NoError(t, src.controller.RecordFeedback(ctx, FeedbackRequest{Query: "find invoice"}))
	}
	require.NoError(t, src.controller.RecordFeedback(ctx, FeedbackRequest{Query: "quarterly revenue", ClickedResults: []int{0}, Satisfaction: rating(5)}))
	src.controller.Drain()

	path := filepath.Join(t.TempDir(), "patterns.yaml")
	n, err := src.controller.ExportPatterns(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dst := newFixture(t, Config{})
	n, err = dst.controller.ImportPatterns(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stored, err := dst.store.ListPatterns(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	var buf bytes.Buffer
	n, err = dst.controller.WritePatterns(&buf, optimizer.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	third := newFixture(t, Config{})
	n, err = third.controller.ReadPatterns(ctx, &buf, optimizer.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = third.controller.ReadPatterns(ctx, strings.NewReader("{not json"), optimizer.FormatJSON)
	assert.True(t, search.IsValidation(err))
}

func TestFitTopicsFromCorpus(t *testing.T) {
	f := newFixture(t, Config{TopicModelPath: filepath.Join(t.TempDir(), "topics.json")})
	ctx := context.Background()

	texts := []string{
		"Invoice totals for consulting services.",
		"Consulting invoice approved for payment.",
		"Hardware invoice and consulting totals.",
	}
	for i, text := range texts {
		require.NoError(t, f.store.InsertDocument(ctx, &models.Document{ID: string(rune('a' + i)), Text: text}))
	}

	n, err := f.controller.FitTopicsFromCorpus(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.FileExists(t, f.controller.cfg.TopicModelPath)

	other := newFixture(t, Config{})
	require.NoError(t, other.controller.LoadTopics(f.controller.cfg.TopicModelPath))
	assert.Equal(t, f.controller.TopicSummary(), other.controller.TopicSummary())
}

func TestPerformanceMetrics(t *testing.T) {
	f := newFixture(t, Config{})
	f.controller.Search(context.Background(), SearchRequest{Query: "find invoice"})

	m := f.controller.PerformanceMetrics(context.Background())
	assert.Len(t, m.AgentPerformance, 3)
	assert.False(t, m.TopicsFitted)
	assert.Empty(t, m.TopicSummary)
	assert.Equal(t, int64(1), m.Optimizer.TotalQueries)
}
