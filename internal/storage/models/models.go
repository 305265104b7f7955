package models

import (
	"sort"
	"strings"
	"time"
)

type PatternType string

const (
	PatternExpansion  PatternType = "expansion"
	PatternRefinement PatternType = "refinement"
)

// QueryPattern is a learned rewrite rule. Key() identifies it in the store.
type QueryPattern struct {
	PatternType   PatternType `json:"pattern_type" yaml:"pattern_type"`
	OriginalTerms []string    `json:"original_terms" yaml:"original_terms"`
	ImprovedTerms []string    `json:"improved_terms" yaml:"improved_terms"`
	SuccessRate   float64     `json:"success_rate" yaml:"success_rate"`
	UsageCount    int         `json:"usage_count" yaml:"usage_count"`
	Confidence    float64     `json:"confidence" yaml:"confidence"`
	CreatedAt     time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" yaml:"updated_at"`
}

// PatternKey is "<type>:" followed by the sorted unique terms joined with "-".
func PatternKey(t PatternType, terms []string) string {
	return string(t) + ":" + strings.Join(normalizeTerms(terms), "-")
}

func (p *QueryPattern) Key() string {
	return PatternKey(p.PatternType, p.OriginalTerms)
}

// NewPattern starts a pattern for the given terms with no recorded outcomes.
func NewPattern(t PatternType, terms []string, now time.Time) *QueryPattern {
	return &QueryPattern{
		PatternType:   t,
		OriginalTerms: normalizeTerms(terms),
		ImprovedTerms: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Record folds one outcome into the running success rate and recomputes confidence.
func (p *QueryPattern) Record(success bool, now time.Time) {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	p.UsageCount++
	p.SuccessRate = (p.SuccessRate*float64(p.UsageCount-1) + outcome) / float64(p.UsageCount)
	p.Confidence = p.SuccessRate * float64(p.UsageCount) / 10
	p.UpdatedAt = now
	p.Clamp()
}

// MergeImproved adds terms not already present in ImprovedTerms or OriginalTerms.
func (p *QueryPattern) MergeImproved(terms []string) {
	have := make(map[string]struct{}, len(p.ImprovedTerms)+len(p.OriginalTerms))
	for _, t := range p.OriginalTerms {
		have[t] = struct{}{}
	}
	for _, t := range p.ImprovedTerms {
		have[t] = struct{}{}
	}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := have[t]; ok {
			continue
		}
		have[t] = struct{}{}
		p.ImprovedTerms = append(p.ImprovedTerms, t)
	}
}

// Clamp keeps rates within [0,1] and normalises the term set.
func (p *QueryPattern) Clamp() {
	p.SuccessRate = clamp01(p.SuccessRate)
	p.Confidence = clamp01(p.Confidence)
	if p.UsageCount < 0 {
		p.UsageCount = 0
	}
	p.OriginalTerms = normalizeTerms(p.OriginalTerms)
	if p.ImprovedTerms == nil {
		p.ImprovedTerms = []string{}
	}
}

func (p *QueryPattern) Clone() QueryPattern {
	c := *p
	c.OriginalTerms = append([]string(nil), p.OriginalTerms...)
	c.ImprovedTerms = append([]string{}, p.ImprovedTerms...)
	return c
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

type QuerySession struct {
	SessionID         string     `json:"session_id"`
	UserID            string     `json:"user_id,omitempty"`
	Queries           []string   `json:"queries"`
	ClickedResults    []int      `json:"clicked_results"`
	ResultScores      []float64  `json:"result_scores"`
	SatisfactionScore *float64   `json:"satisfaction_score,omitempty"`
	Success           bool       `json:"success"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
}

type FeedbackRecord struct {
	ID               int64     `json:"id"`
	SessionID        string    `json:"session_id"`
	Query            string    `json:"query"`
	ResultCount      int       `json:"result_count"`
	ClickedResults   []int     `json:"clicked_results"`
	TimeSpent        float64   `json:"time_spent"`
	Satisfaction     *int      `json:"satisfaction,omitempty"`
	ReformulatedFrom string    `json:"reformulated_from,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type QueryRecord struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	QueryText      string    `json:"query_text"`
	OptimizedQuery string    `json:"optimized_query"`
	Intent         string    `json:"intent"`
	ResultCount    int       `json:"result_count"`
	AgentsUsed     []string  `json:"agents_used"`
	TopicEnhanced  bool      `json:"topic_enhanced"`
	LatencyMS      int64     `json:"latency_ms"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Document is indexed text kept for fitting the topic model.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}
