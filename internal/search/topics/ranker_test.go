package topics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/search/searchtest"
)

var corpus = []string{
	"Quarterly revenue and profit grew while earnings per share beat the dividend forecast.",
	"The company reported record revenue, higher profit margins and a larger dividend.",
	"Earnings guidance lifted the quarterly dividend; revenue and profit rose again.",
	"Investors cheered profit growth, stronger earnings and recurring revenue.",
	"The patient received clinical treatment after the hospital confirmed the diagnosis.",
	"Hospital staff reviewed the diagnosis and adjusted the patient treatment plan.",
	"Clinical trials showed the treatment helped every patient in the hospital ward.",
	"A second diagnosis changed the clinical treatment for the patient.",
}

func fitted(t *testing.T, classifier search.Classifier) *Ranker {
	t.Helper()
	r := New(classifier, Config{NumTopics: 2, Iterations: 200})
	require.NoError(t, r.Fit(context.Background(), corpus))
	require.True(t, r.Fitted())
	return r
}

func candidates() []search.SearchResult {
	return []search.SearchResult{
		{Content: "The patient treatment at the hospital followed the diagnosis.", Score: 0.8, Source: search.SourceVector},
		{Content: "Quarterly revenue and profit rose with the dividend.", Score: 0.8, Source: search.SourceGraph, Metadata: map[string]any{"doc_id": "d1"}},
		{Content: "", Score: 1, Source: search.SourceGraph},
	}
}

func TestRank_PassthroughBeforeFit(t *testing.T) {
	r := New(&searchtest.Classifier{Label: "financial"}, Config{})
	results := []search.SearchResult{
		{Content: "b", Score: 0.2},
		{Content: "a", Score: 0.9},
	}

	ranked, enhanced := r.Rank(context.Background(), "revenue", results)
	assert.False(t, enhanced)
	require.Len(t, ranked, 2)
	for i := range results {
		assert.Equal(t, results[i].Content, ranked[i].Content)
		assert.Equal(t, results[i].Score, ranked[i].FinalScore)
		assert.Equal(t, results[i].Score, ranked[i].OriginalScore)
	}
	assert.Empty(t, r.QueryTopics(context.Background(), "revenue").Topics)
	assert.Empty(t, r.Summary())
}

func TestFit_RejectsTinyCorpus(t *testing.T) {
	r := New(nil, Config{})
	err := r.Fit(context.Background(), []string{"only one document here", "   ", "123 !!!"})
	assert.True(t, search.IsValidation(err))
	assert.False(t, r.Fitted())
}

func TestFit_FailureKeepsPreviousModel(t *testing.T) {
	r := fitted(t, nil)
	before := r.Summary()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, r.Fit(ctx, corpus), context.Canceled)

	assert.True(t, r.Fitted())
	assert.Equal(t, before, r.Summary())
}

func TestFit_Deterministic(t *testing.T) {
	a := fitted(t, nil)
	b := fitted(t, nil)
	assert.Equal(t, a.Summary(), b.Summary())

	qa := a.QueryTopics(context.Background(), "profit and revenue")
	qb := b.QueryTopics(context.Background(), "profit and revenue")
	assert.Equal(t, qa, qb)
}

func TestSummary(t *testing.T) {
	r := fitted(t, nil)
	summary := r.Summary()
	require.Len(t, summary, 2)

	total := 0
	for i, info := range summary {
		assert.Equal(t, i, info.TopicID)
		assert.NotEmpty(t, info.Keywords)
		assert.LessOrEqual(t, len(info.Keywords), keywordsPerTopic)
		if info.DocumentCount > 0 {
			assert.Greater(t, info.AverageConfidence, 0.0)
			assert.LessOrEqual(t, info.AverageConfidence, 1.0)
		}
		total += info.DocumentCount
	}
	assert.Equal(t, len(corpus), total)
}

func TestQueryTopics(t *testing.T) {
	r := fitted(t, &searchtest.Classifier{Label: "medical"})

	qt := r.QueryTopics(context.Background(), "patient diagnosis and clinical treatment")
	require.NotEmpty(t, qt.Topics)
	assert.LessOrEqual(t, len(qt.Topics), maxQueryTopics)
	assert.Equal(t, qt.Topics[0].Probability, qt.Confidence)
	for i, topic := range qt.Topics {
		assert.Greater(t, topic.Probability, queryTopicFloor)
		if i > 0 {
			assert.LessOrEqual(t, topic.Probability, qt.Topics[i-1].Probability)
		}
	}
	assert.Equal(t, "medical", dominantDomain(qt.DomainScores))

	empty := r.QueryTopics(context.Background(), "2024 !!!")
	assert.Empty(t, empty.Topics)
	assert.Zero(t, empty.Confidence)
}

func TestRank_WeightConservation(t *testing.T) {
	r := fitted(t, &searchtest.Classifier{Label: "financial"})

	ranked, enhanced := r.Rank(context.Background(), "quarterly revenue and profit", candidates())
	require.True(t, enhanced)
	require.Len(t, ranked, 2, "empty content is skipped")

	for _, res := range ranked {
		want := 0.6*res.OriginalScore + 0.3*res.TopicScore + 0.1*res.DomainScore
		assert.InDelta(t, want, res.FinalScore, 1e-9)
		assert.InDelta(t, 0.9, res.DomainScore, 1e-9)
		assert.LessOrEqual(t, res.TopicScore, 1.0)
		assert.Equal(t, "financial", res.Metadata["primary_domain"])
	}
	assert.GreaterOrEqual(t, ranked[0].FinalScore, ranked[1].FinalScore)
}

func TestRank_PrefersTopicalMatch(t *testing.T) {
	r := fitted(t, nil)

	ranked, _ := r.Rank(context.Background(), "quarterly revenue and profit", candidates())
	require.Len(t, ranked, 2)
	assert.Contains(t, ranked[0].Content, "revenue")
	assert.Equal(t, "d1", ranked[0].Metadata["doc_id"])
	assert.NotEmpty(t, ranked[0].TopicIDs)
}

func TestRank_ClassifierFailureFallsBackToGeneral(t *testing.T) {
	classifier := &searchtest.Classifier{ZeroShotFunc: func(ctx context.Context, text string, labels []string) (map[string]float64, error) {
		return nil, errors.New("model unavailable")
	}}
	r := fitted(t, classifier)

	ranked, enhanced := r.Rank(context.Background(), "revenue", candidates())
	require.True(t, enhanced)
	for _, res := range ranked {
		assert.Equal(t, "general", res.Metadata["primary_domain"])
		assert.Equal(t, 1.0, res.DomainScore)
	}
}

func TestTopicRelevance(t *testing.T) {
	doc := docTopics{Distribution: []float64{0.7, 0.2, 0.1}, Primary: 0}

	t.Run("neutral without query topics", func(t *testing.T) {
		assert.Equal(t, neutralRelevance, topicRelevance(QueryTopics{}, doc))
	})
	t.Run("bonus for primary topic", func(t *testing.T) {
		qt := QueryTopics{Topics: []QueryTopic{{TopicID: 0, Probability: 0.5}}}
		assert.InDelta(t, 0.35+primaryTopicBonus, topicRelevance(qt, doc), 1e-9)
	})
	t.Run("no bonus otherwise", func(t *testing.T) {
		qt := QueryTopics{Topics: []QueryTopic{{TopicID: 1, Probability: 0.5}}}
		assert.InDelta(t, 0.1, topicRelevance(qt, doc), 1e-9)
	})
	t.Run("capped at one", func(t *testing.T) {
		qt := QueryTopics{Topics: []QueryTopic{{TopicID: 0, Probability: 1}}}
		strong := docTopics{Distribution: []float64{1}, Primary: 0}
		assert.Equal(t, 1.0, topicRelevance(qt, strong))
	})
}

func TestSaveLoad(t *testing.T) {
	r := fitted(t, nil)
	path := filepath.Join(t.TempDir(), "models", "topics.json")
	require.NoError(t, r.Save(path))

	loaded := New(nil, Config{NumTopics: 2})
	require.NoError(t, loaded.Load(path))
	assert.True(t, loaded.Fitted())
	assert.Equal(t, r.Summary(), loaded.Summary())

	want, _ := r.Rank(context.Background(), "patient treatment", candidates())
	got, _ := loaded.Rank(context.Background(), "patient treatment", candidates())
	assert.Equal(t, want, got)
}

func TestSave_Unfitted(t *testing.T) {
	assert.Error(t, New(nil, Config{}).Save(filepath.Join(t.TempDir(), "m.json")))
}

func TestLoad_RejectsInconsistentModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"num_topics":2,"vocabulary":["a"],"topic_word":[[1]],"keywords":[["a"],["a"]],"idf":[1]}`), 0o644))

	r := New(nil, Config{})
	assert.Error(t, r.Load(path))
	assert.False(t, r.Fitted())
}
