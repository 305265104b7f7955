package evaluation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptive-search/backend/internal/search/controller"
	"github.com/adaptive-search/backend/internal/search/searchtest"
	"github.com/adaptive-search/backend/internal/storage/models"
	"github.com/adaptive-search/backend/internal/storage/sqlite"
)

type searchFunc func(ctx context.Context, req controller.SearchRequest) *controller.SearchResponse

func (f searchFunc) Search(ctx context.Context, req controller.SearchRequest) *controller.SearchResponse {
	return f(ctx, req)
}

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	c, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ptr[T any](v T) *T { return &v }

func TestInteractions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Unix(1700000000, 0).UTC()

	require.NoError(t, store.SaveSession(ctx, &models.QuerySession{SessionID: "s1", Success: true, SatisfactionScore: ptr(0.8), StartedAt: now}))
	require.NoError(t, store.SaveSession(ctx, &models.QuerySession{SessionID: "s2", StartedAt: now}))

	require.NoError(t, store.InsertFeedback(ctx, &models.FeedbackRecord{Query: "a", ClickedResults: []int{2, 0}, Satisfaction: ptr(4), CreatedAt: now}))
	require.NoError(t, store.InsertFeedback(ctx, &models.FeedbackRecord{Query: "b", ClickedResults: []int{1}, CreatedAt: now}))
	require.NoError(t, store.InsertFeedback(ctx, &models.FeedbackRecord{Query: "c", ClickedResults: []int{}, Satisfaction: ptr(2), CreatedAt: now}))

	require.NoError(t, store.InsertQueryRecord(ctx, &models.QueryRecord{ID: "q1", QueryText: "a", LatencyMS: 100, AgentsUsed: []string{"vector", "graph"}, TopicEnhanced: true, CreatedAt: now}))
	require.NoError(t, store.InsertQueryRecord(ctx, &models.QueryRecord{ID: "q2", QueryText: "b", LatencyMS: 300, AgentsUsed: []string{"vector"}, Error: "search cancelled", CreatedAt: now}))

	report, err := NewEvaluator(store, nil, nil).Interactions(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Sessions)
	assert.Equal(t, 0.5, report.SessionSuccessRate)
	assert.InDelta(t, 0.8, report.AvgSatisfaction, 1e-9)

	assert.Equal(t, 3, report.FeedbackEvents)
	assert.InDelta(t, 2.0/3.0, report.ClickThroughRate, 1e-9)
	assert.InDelta(t, (1.0+0.5)/3.0, report.MeanReciprocalRank, 1e-9)
	assert.InDelta(t, 3.0, report.AvgRating, 1e-9)

	assert.Equal(t, 2, report.Queries)
	assert.InDelta(t, 200.0, report.AvgLatencyMS, 1e-9)
	assert.Equal(t, 0.5, report.ErrorRate)
	assert.Equal(t, 0.5, report.TopicEnhancedRate)
	assert.Equal(t, map[string]int{"vector": 2, "graph": 1}, report.AgentUsage)
}

func TestInteractions_Empty(t *testing.T) {
	report, err := NewEvaluator(newStore(t), nil, nil).Interactions(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, report.SessionSuccessRate)
	assert.Zero(t, report.ClickThroughRate)
	assert.Empty(t, report.AgentUsage)
}

func TestRunDataset(t *testing.T) {
	searcher := searchFunc(func(ctx context.Context, req controller.SearchRequest) *controller.SearchResponse {
		switch req.Query {
		case "apple revenue":
			return &controller.SearchResponse{SearchResults: []controller.Result{
				{Content: "Google revenue 2023"},
				{Content: "Apple revenue was 383 billion in 2023"},
			}}
		case "broken":
			return &controller.SearchResponse{Error: "graph down", ErrorKind: controller.KindDependency}
		default:
			return &controller.SearchResponse{SearchResults: []controller.Result{{Content: "unrelated"}}}
		}
	})

	dataset, err := LoadDataset(strings.NewReader(`{"items":[
		{"query":"apple revenue","expected":"383 BILLION","category":"financial"},
		{"query":"tax rules","expected":"section 179","category":"legal"},
		{"query":"broken","expected":"x"}
	]}`))
	require.NoError(t, err)

	report, err := NewEvaluator(newStore(t), searcher, &searchtest.Embedder{}).RunDataset(context.Background(), dataset)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Hits)
	assert.InDelta(t, 1.0/3.0, report.HitRate, 1e-9)
	assert.InDelta(t, 0.5/3.0, report.MeanReciprocalRank, 1e-9)
	assert.Equal(t, CategoryStats{Total: 1, Hits: 1, HitRate: 1}, report.ByCategory["financial"])
	assert.Equal(t, CategoryStats{Total: 1}, report.ByCategory["legal"])
	assert.Equal(t, 1, report.ByCategory["uncategorized"].Total)
	assert.NotZero(t, report.AvgCosineSimilarity)

	text := FormatDatasetReport(report)
	assert.Contains(t, text, "Hit rate:     33.3%")
	assert.Contains(t, text, "- financial: 1/1 (100.0%)")
}

func TestRunDataset_NeedsSearcher(t *testing.T) {
	_, err := NewEvaluator(newStore(t), nil, nil).RunDataset(context.Background(), &Dataset{})
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
