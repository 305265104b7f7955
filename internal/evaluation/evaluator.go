// Package evaluation measures retrieval quality, both offline against a
// labelled dataset and from the interactions users leave behind.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/search/controller"
	"github.com/adaptive-search/backend/internal/storage"
	"github.com/adaptive-search/backend/pkg/logger"
)

// Searcher runs one query through the pipeline.
type Searcher interface {
	Search(ctx context.Context, req controller.SearchRequest) *controller.SearchResponse
}

type Evaluator struct {
	store    storage.PatternStore
	searcher Searcher
	embedder search.Embedder
}

// NewEvaluator wires the evaluator. searcher is only needed for dataset runs
// and embedder only for similarity scores; both may be nil.
func NewEvaluator(store storage.PatternStore, searcher Searcher, embedder search.Embedder) *Evaluator {
	return &Evaluator{store: store, searcher: searcher, embedder: embedder}
}

type InteractionReport struct {
	Sessions           int            `json:"sessions"`
	SuccessfulSessions int            `json:"successful_sessions"`
	SessionSuccessRate float64        `json:"session_success_rate"`
	RatedSessions      int            `json:"rated_sessions"`
	AvgSatisfaction    float64        `json:"avg_satisfaction"`
	FeedbackEvents     int            `json:"feedback_events"`
	ClickThroughRate   float64        `json:"click_through_rate"`
	MeanReciprocalRank float64        `json:"mean_reciprocal_rank"`
	AvgRating          float64        `json:"avg_rating"`
	Queries            int            `json:"queries"`
	AvgLatencyMS       float64        `json:"avg_latency_ms"`
	ErrorRate          float64        `json:"error_rate"`
	TopicEnhancedRate  float64        `json:"topic_enhanced_rate"`
	AgentUsage         map[string]int `json:"agent_usage"`
}

// Interactions summarises the most recent limit sessions, feedback events and
// query records (everything when limit <= 0).
func (e *Evaluator) Interactions(ctx context.Context, limit int) (*InteractionReport, error) {
	report := &InteractionReport{AgentUsage: map[string]int{}}

	sessions, err := e.store.ListSessions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var satisfaction float64
	for _, s := range sessions {
		report.Sessions++
		if s.Success {
			report.SuccessfulSessions++
		}
		if s.SatisfactionScore != nil {
			report.RatedSessions++
			satisfaction += *s.SatisfactionScore
		}
	}
	report.SessionSuccessRate = ratio(report.SuccessfulSessions, report.Sessions)
	if report.RatedSessions > 0 {
		report.AvgSatisfaction = satisfaction / float64(report.RatedSessions)
	}

	feedback, err := e.store.ListFeedback(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	var clicked, rated int
	var reciprocal, ratings float64
	for _, f := range feedback {
		report.FeedbackEvents++
		if len(f.ClickedResults) > 0 {
			clicked++
			first := f.ClickedResults[0]
			for _, c := range f.ClickedResults {
				first = min(first, c)
			}
			reciprocal += 1 / float64(first+1)
		}
		if f.Satisfaction != nil {
			rated++
			ratings += float64(*f.Satisfaction)
		}
	}
	report.ClickThroughRate = ratio(clicked, report.FeedbackEvents)
	if report.FeedbackEvents > 0 {
		report.MeanReciprocalRank = reciprocal / float64(report.FeedbackEvents)
	}
	if rated > 0 {
		report.AvgRating = ratings / float64(rated)
	}

	records, err := e.store.ListQueryRecords(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list query records: %w", err)
	}
	var latency float64
	var failed, enhanced int
	for _, r := range records {
		report.Queries++
		latency += float64(r.LatencyMS)
		if r.Error != "" {
			failed++
		}
		if r.TopicEnhanced {
			enhanced++
		}
		for _, a := range r.AgentsUsed {
			report.AgentUsage[a]++
		}
	}
	if report.Queries > 0 {
		report.AvgLatencyMS = latency / float64(report.Queries)
	}
	report.ErrorRate = ratio(failed, report.Queries)
	report.TopicEnhancedRate = ratio(enhanced, report.Queries)

	logger.Info("Interaction report computed",
		zap.Int("sessions", report.Sessions),
		zap.Int("feedback", report.FeedbackEvents),
		zap.Int("queries", report.Queries),
	)
	return report, nil
}

type Dataset struct {
	Items []DatasetItem `json:"items"`
}

// DatasetItem pairs a query with a passage a good result should contain.
type DatasetItem struct {
	Query    string `json:"query"`
	Expected string `json:"expected"`
	Category string `json:"category,omitempty"`
}

type CategoryStats struct {
	Total   int     `json:"total"`
	Hits    int     `json:"hits"`
	HitRate float64 `json:"hit_rate"`
}

type DatasetReport struct {
	Total               int                      `json:"total"`
	Failed              int                      `json:"failed"`
	Hits                int                      `json:"hits"`
	HitRate             float64                  `json:"hit_rate"`
	MeanReciprocalRank  float64                  `json:"mean_reciprocal_rank"`
	AvgCosineSimilarity float64                  `json:"avg_cosine_similarity"`
	ByCategory          map[string]CategoryStats `json:"by_category"`
}

// RunDataset searches every item and scores where, if anywhere, the expected
// passage shows up.
func (e *Evaluator) RunDataset(ctx context.Context, dataset *Dataset) (*DatasetReport, error) {
	if e.searcher == nil {
		return nil, fmt.Errorf("dataset evaluation needs a searcher")
	}
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	report := &DatasetReport{Total: len(dataset.Items), ByCategory: map[string]CategoryStats{}}
	var reciprocal, similarity float64
	var compared int

	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		category := item.Category
		if category == "" {
			category = "uncategorized"
		}
		stats := report.ByCategory[category]
		stats.Total++

		resp := e.searcher.Search(ctx, controller.SearchRequest{Query: item.Query})
		if resp.Error != "" {
			report.Failed++
			report.ByCategory[category] = stats
			logger.Warn("Evaluation query failed",
				zap.Int("index", i),
				zap.String("error_kind", resp.ErrorKind),
				zap.String("error", resp.Error),
			)
			continue
		}

		if rank := hitRank(resp.SearchResults, item.Expected); rank > 0 {
			report.Hits++
			stats.Hits++
			reciprocal += 1 / float64(rank)
		}
		report.ByCategory[category] = stats

		if e.embedder != nil && len(resp.SearchResults) > 0 && item.Expected != "" {
			sim, err := e.similarity(ctx, resp.SearchResults[0].Content, item.Expected)
			if err != nil {
				logger.Warn("Failed to calculate cosine similarity", zap.Error(err))
			} else {
				similarity += sim
				compared++
			}
		}
	}

	report.HitRate = ratio(report.Hits, report.Total)
	if report.Total > 0 {
		report.MeanReciprocalRank = reciprocal / float64(report.Total)
	}
	if compared > 0 {
		report.AvgCosineSimilarity = similarity / float64(compared)
	}
	for name, stats := range report.ByCategory {
		stats.HitRate = ratio(stats.Hits, stats.Total)
		report.ByCategory[name] = stats
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.Total),
		zap.Int("hits", report.Hits),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// hitRank is the 1-based position of the first result containing expected,
// or 0.
func hitRank(results []controller.Result, expected string) int {
	want := strings.ToLower(strings.TrimSpace(expected))
	if want == "" {
		return 0
	}
	for i, r := range results {
		if strings.Contains(strings.ToLower(r.Content), want) {
			return i + 1
		}
	}
	return 0
}

func (e *Evaluator) similarity(ctx context.Context, a, b string) (float64, error) {
	va, err := e.embedder.Encode(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := e.embedder.Encode(ctx, b)
	if err != nil {
		return 0, err
	}
	return cosineSimilarity(va, vb), nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func LoadDataset(r io.Reader) (*Dataset, error) {
	var dataset Dataset
	if err := json.NewDecoder(r).Decode(&dataset); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}
	return &dataset, nil
}

// FormatDatasetReport renders a report for terminals.
func FormatDatasetReport(report *DatasetReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluation Report\n=================\n\n")
	fmt.Fprintf(&b, "Queries:      %d (%d failed)\n", report.Total, report.Failed)
	fmt.Fprintf(&b, "Hit rate:     %.1f%%\n", report.HitRate*100)
	fmt.Fprintf(&b, "MRR:          %.3f\n", report.MeanReciprocalRank)
	fmt.Fprintf(&b, "Cosine sim.:  %.3f\n", report.AvgCosineSimilarity)

	names := make([]string, 0, len(report.ByCategory))
	for name := range report.ByCategory {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		fmt.Fprintf(&b, "\nBy category:\n")
	}
	for _, name := range names {
		s := report.ByCategory[name]
		fmt.Fprintf(&b, "- %s: %d/%d (%.1f%%)\n", name, s.Hits, s.Total, s.HitRate*100)
	}
	return b.String()
}
