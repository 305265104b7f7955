// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptive-search/backend/internal/storage"
	"github.com/adaptive-search/backend/internal/storage/models"
)

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	t.Run("pattern upsert by key", func(t *testing.T) {
		s := open(t)

		p := models.NewPattern(models.PatternRefinement, []string{"invoice", "find"}, now)
		p.Record(false, now)
		require.NoError(t, s.UpsertPattern(ctx, p))

		p.Record(false, now)
		require.NoError(t, s.UpsertPattern(ctx, p))

		got, err := s.GetPattern(ctx, "refinement:find-invoice")
		require.NoError(t, err)
		assert.Equal(t, 2, got.UsageCount)
		assert.Equal(t, []string{"find", "invoice"}, got.OriginalTerms)
		assert.Equal(t, models.PatternRefinement, got.PatternType)

		all, err := s.ListPatterns(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("pattern rates are clamped on write", func(t *testing.T) {
		s := open(t)

		p := &models.QueryPattern{
			PatternType:   models.PatternExpansion,
			OriginalTerms: []string{"revenue"},
			ImprovedTerms: []string{"income"},
			SuccessRate:   3,
			Confidence:    -1,
			UsageCount:    4,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		require.NoError(t, s.UpsertPattern(ctx, p))

		got, err := s.GetPattern(ctx, "expansion:revenue")
		require.NoError(t, err)
		assert.Equal(t, 1.0, got.SuccessRate)
		assert.Equal(t, 0.0, got.Confidence)
		assert.Equal(t, []string{"income"}, got.ImprovedTerms)
	})

	t.Run("missing pattern", func(t *testing.T) {
		s := open(t)
		_, err := s.GetPattern(ctx, "expansion:nothing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("pattern without terms is rejected", func(t *testing.T) {
		s := open(t)
		err := s.UpsertPattern(ctx, models.NewPattern(models.PatternExpansion, nil, now))
		assert.ErrorIs(t, err, storage.ErrInvalidKey)
	})

	t.Run("sessions round trip", func(t *testing.T) {
		s := open(t)

		score := 0.8
		ended := now.Add(time.Minute)
		session := &models.QuerySession{
			SessionID:         "s-1",
			UserID:            "u-1",
			Queries:           []string{"find invoice", "find invoice 2023"},
			ClickedResults:    []int{0, 2},
			ResultScores:      []float64{0.9, 0.4},
			SatisfactionScore: &score,
			Success:           true,
			StartedAt:         now,
			EndedAt:           &ended,
		}
		require.NoError(t, s.SaveSession(ctx, session))

		got, err := s.GetSession(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, session.Queries, got.Queries)
		assert.Equal(t, session.ClickedResults, got.ClickedResults)
		require.NotNil(t, got.SatisfactionScore)
		assert.InDelta(t, 0.8, *got.SatisfactionScore, 1e-9)
		assert.True(t, got.Success)
		require.NotNil(t, got.EndedAt)

		list, err := s.ListSessions(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		_, err = s.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("feedback and query history", func(t *testing.T) {
		s := open(t)

		rating := 5
		require.NoError(t, s.InsertFeedback(ctx, &models.FeedbackRecord{
			SessionID: "s-1", Query: "q1", ResultCount: 5, ClickedResults: []int{1}, Satisfaction: &rating, CreatedAt: now,
		}))
		require.NoError(t, s.InsertFeedback(ctx, &models.FeedbackRecord{
			SessionID: "s-1", Query: "q2", ResultCount: 3, CreatedAt: now.Add(time.Second),
		}))

		fb, err := s.ListFeedback(ctx, 0)
		require.NoError(t, err)
		require.Len(t, fb, 2)
		assert.Equal(t, "q2", fb[0].Query)
		assert.Nil(t, fb[0].Satisfaction)
		require.NotNil(t, fb[1].Satisfaction)
		assert.Equal(t, 5, *fb[1].Satisfaction)

		require.NoError(t, s.InsertQueryRecord(ctx, &models.QueryRecord{
			ID: "r-1", SessionID: "s-1", QueryText: "q1", AgentsUsed: []string{"hybrid"}, ResultCount: 5, CreatedAt: now,
		}))
		records, err := s.ListQueryRecords(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, []string{"hybrid"}, records[0].AgentsUsed)
	})

	t.Run("corpus documents", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.InsertDocument(ctx, &models.Document{ID: "d1", Text: "first", CreatedAt: now}))
		require.NoError(t, s.InsertDocument(ctx, &models.Document{ID: "d2", Text: "second", CreatedAt: now.Add(time.Second)}))
		require.NoError(t, s.InsertDocument(ctx, &models.Document{ID: "d1", Text: "first revised", CreatedAt: now}))

		texts, err := s.ListDocumentTexts(ctx, 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"first revised", "second"}, texts)
	})
}
