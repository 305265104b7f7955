package controller

import (
	"context"
	"errors"

	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/search/optimizer"
	"github.com/adaptive-search/backend/internal/storage/models"
)

// Error kinds reported in responses.
const (
	KindValidation = "validation"
	KindDependency = "dependency"
	KindCancelled  = "cancelled"
	KindInternal   = "internal"
)

type SearchRequest struct {
	Query           string   `json:"query"`
	SessionID       string   `json:"session_id,omitempty"`
	UserID          string   `json:"user_id,omitempty"`
	ContextEntities []string `json:"context_entities,omitempty"`
}

type QueryProcessing struct {
	OriginalQuery        string                `json:"original_query"`
	RewrittenQuery       string                `json:"rewritten_query,omitempty"`
	OptimizedQuery       string                `json:"optimized_query,omitempty"`
	ExpandedQueries      []string              `json:"expanded_queries,omitempty"`
	Entities             search.Entities       `json:"entities,omitempty"`
	Intent               search.Intent         `json:"intent,omitempty"`
	OptimizationsApplied []search.Optimization `json:"optimizations_applied,omitempty"`
}

type Result struct {
	Content       string         `json:"content"`
	Score         float64        `json:"score"`
	Source        search.Source  `json:"source"`
	Strategy      string         `json:"strategy"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	OriginalScore float64        `json:"original_score"`
	TopicScore    float64        `json:"topic_score,omitempty"`
	TopicIDs      []int          `json:"topic_ids,omitempty"`
}

type Diagnostics struct {
	TotalResults           int               `json:"total_results"`
	ProcessingTimeMS       int64             `json:"processing_time_ms"`
	RewriteConfidence      float64           `json:"rewrite_confidence"`
	OptimizationConfidence float64           `json:"optimization_confidence"`
	ExpectedImprovement    float64           `json:"expected_improvement"`
	AgentsSelected         []string          `json:"agents_selected"`
	AgentsUsed             []string          `json:"agents_used"`
	AgentsFailed           map[string]string `json:"agents_failed,omitempty"`
	TopicEnhanced          bool              `json:"topic_enhanced"`
}

// SearchResponse is always well formed. A failed stage sets Error and
// ErrorKind and leaves whatever earlier stages produced in place.
type SearchResponse struct {
	SessionID        string          `json:"session_id,omitempty"`
	QueryProcessing  QueryProcessing `json:"query_processing"`
	SearchResults    []Result        `json:"search_results"`
	Metadata         Diagnostics     `json:"metadata"`
	QuerySuggestions []string        `json:"query_suggestions"`
	Error            string          `json:"error,omitempty"`
	ErrorKind        string          `json:"error_kind,omitempty"`
}

func (r *SearchResponse) fail(err error) {
	r.Error = err.Error()
	r.ErrorKind = errorKind(err)
}

type OptimizeResponse struct {
	Original             string                `json:"original"`
	Rewritten            string                `json:"rewritten,omitempty"`
	Optimized            string                `json:"optimized,omitempty"`
	Entities             search.Entities       `json:"entities,omitempty"`
	Intent               search.Intent         `json:"intent,omitempty"`
	Confidence           float64               `json:"confidence"`
	Variations           []string              `json:"variations"`
	OptimizationsApplied []search.Optimization `json:"optimizations_applied,omitempty"`
	ExpectedImprovement  float64               `json:"expected_improvement"`
	Error                string                `json:"error,omitempty"`
	ErrorKind            string                `json:"error_kind,omitempty"`
}

type FeedbackRequest struct {
	SessionID        string  `json:"session_id"`
	Query            string  `json:"query"`
	ClickedResults   []int   `json:"clicked_results"`
	Satisfaction     *int    `json:"satisfaction,omitempty"`
	ResultCount      int     `json:"result_count,omitempty"`
	TimeSpent        float64 `json:"time_spent,omitempty"`
	ReformulatedFrom string  `json:"reformulated_from,omitempty"`
}

type PerformanceMetrics struct {
	Optimizer        optimizer.Stats                    `json:"query_optimizer"`
	AgentPerformance map[string]search.AgentPerformance `json:"agent_performance"`
	TopicsFitted     bool                               `json:"topics_fitted"`
	TopicSummary     []search.TopicInfo                 `json:"topic_summary"`
	TopPatterns      []models.QueryPattern              `json:"top_patterns"`
	ActiveSessions   int                                `json:"active_sessions"`
}

func errorKind(err error) string {
	var dep *search.DependencyError
	switch {
	case search.IsValidation(err):
		return KindValidation
	case errors.Is(err, search.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.As(err, &dep):
		return KindDependency
	default:
		return KindInternal
	}
}
