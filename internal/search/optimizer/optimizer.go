// Package optimizer applies learned query patterns and learns new ones from
// user feedback.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/metrics"
	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/search/worker"
	"github.com/adaptive-search/backend/internal/storage"
	"github.com/adaptive-search/backend/internal/storage/models"
	"github.com/adaptive-search/backend/pkg/logger"
)

// refinementTypes are the entity types worth appending to a query.
var refinementTypes = []search.EntityType{search.EntityPerson, search.EntityOrg, search.EntityGPE}

// Feedback is one user reaction to a result list.
type Feedback struct {
	SessionID        string
	Query            string
	ResultCount      int
	ClickedResults   []int
	TimeSpent        float64
	Rating           *int
	ReformulatedFrom string
}

type Stats struct {
	TotalQueries     int64        `json:"total_queries"`
	OptimizedQueries int64        `json:"optimized_queries"`
	ImprovementRate  float64      `json:"improvement_rate"`
	AvgSatisfaction  float64      `json:"avg_satisfaction"`
	RatedSessions    int64        `json:"rated_sessions"`
	CachedPatterns   int          `json:"cached_patterns"`
	FeedbackEvents   int64        `json:"feedback_events"`
	LearnedSuccesses int64        `json:"learned_successes"`
	LearnedFailures  int64        `json:"learned_failures"`
	Queue            worker.Stats `json:"queue"`
}

type Optimizer struct {
	store     storage.PatternStore
	queue     *worker.Queue
	ownsQueue bool

	expansionThreshold float64
	successRating      int
	now                func() time.Time

	mu       sync.RWMutex
	patterns map[string]*models.QueryPattern

	statsMu sync.Mutex
	stats   Stats
}

type Option func(*Optimizer)

// WithQueue shares a background queue instead of starting a private one.
func WithQueue(q *worker.Queue) Option {
	return func(o *Optimizer) { o.queue = q }
}

// WithExpansionThreshold sets the success rate an expansion pattern must exceed to be applied.
func WithExpansionThreshold(v float64) Option {
	return func(o *Optimizer) { o.expansionThreshold = v }
}

// WithSuccessRating sets the minimum rating that, together with a click, counts as success.
func WithSuccessRating(v int) Option {
	return func(o *Optimizer) { o.successRating = v }
}

func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) { o.now = now }
}

// New loads every stored pattern into memory.
func New(ctx context.Context, store storage.PatternStore, opts ...Option) (*Optimizer, error) {
	o := &Optimizer{
		store:              store,
		expansionThreshold: 0.7,
		successRating:      4,
		now:                time.Now,
		patterns:           make(map[string]*models.QueryPattern),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.queue == nil {
		o.queue = worker.New(worker.Config{})
		o.ownsQueue = true
	}

	stored, err := store.ListPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}
	for i := range stored {
		p := stored[i]
		p.Clamp()
		o.patterns[p.Key()] = &p
	}
	metrics.CachedPatterns.Set(float64(len(o.patterns)))

	logger.Info("Query optimizer initialized", zap.Int("patterns", len(o.patterns)))
	return o, nil
}

// Optimize applies learned expansions and entity refinement. It never touches storage.
func (o *Optimizer) Optimize(query string, entities search.Entities) search.OptimizeResult {
	result := search.OptimizeResult{
		OriginalQuery:        query,
		OptimizedQuery:       query,
		OptimizationsApplied: []search.Optimization{},
	}

	current := query
	total := 0.0

	if expanded, conf := o.applyExpansion(current); expanded != current {
		result.OptimizationsApplied = append(result.OptimizationsApplied, search.Optimization{
			Type:       search.OptimizationTermExpansion,
			Original:   current,
			Optimized:  expanded,
			Confidence: conf,
		})
		current = expanded
		total += conf
	}

	if refined, conf := applyRefinement(current, entities); refined != current {
		result.OptimizationsApplied = append(result.OptimizationsApplied, search.Optimization{
			Type:       search.OptimizationQueryRefinement,
			Original:   current,
			Optimized:  refined,
			Confidence: conf,
		})
		current = refined
		total += conf
	}

	result.OptimizedQuery = current
	if n := len(result.OptimizationsApplied); n > 0 {
		result.Confidence = total / float64(n)
	}
	result.ExpectedImprovement = estimateImprovement(query, current)

	for _, opt := range result.OptimizationsApplied {
		metrics.OptimizationsApplied.WithLabelValues(string(opt.Type)).Inc()
	}

	o.statsMu.Lock()
	o.stats.TotalQueries++
	if len(result.OptimizationsApplied) > 0 {
		o.stats.OptimizedQueries++
	}
	o.stats.ImprovementRate = float64(o.stats.OptimizedQueries) / float64(o.stats.TotalQueries)
	o.statsMu.Unlock()

	return result
}

func (o *Optimizer) applyExpansion(query string) (string, float64) {
	tokens := search.Tokens(query)
	present := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		present[t] = struct{}{}
	}

	o.mu.RLock()
	keys := make([]string, 0, len(o.patterns))
	for k, p := range o.patterns {
		if p.PatternType == models.PatternExpansion && p.SuccessRate > o.expansionThreshold && len(p.ImprovedTerms) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var added []string
	conf := 0.0
	for _, k := range keys {
		p := o.patterns[k]
		if len(p.OriginalTerms) == 0 {
			continue
		}
		matches := 0
		for _, t := range p.OriginalTerms {
			if _, ok := present[t]; ok {
				matches++
			}
		}
		if float64(matches)/float64(len(p.OriginalTerms)) <= 0.5 {
			continue
		}
		appended := false
		for _, t := range p.ImprovedTerms {
			if _, ok := present[t]; ok {
				continue
			}
			present[t] = struct{}{}
			added = append(added, t)
			appended = true
		}
		if appended {
			conf = math.Max(conf, p.Confidence)
		}
	}
	o.mu.RUnlock()

	if len(added) == 0 {
		return query, 0
	}
	return query + " " + strings.Join(added, " "), conf
}

func applyRefinement(query string, entities search.Entities) (string, float64) {
	refined := query
	conf := 0.0
	for _, t := range refinementTypes {
		for _, e := range entities[t] {
			if e == "" || strings.Contains(strings.ToLower(refined), strings.ToLower(e)) {
				continue
			}
			refined += " " + e
			conf += 0.1
		}
	}
	return refined, math.Min(conf, 0.8)
}

func estimateImprovement(original, optimized string) float64 {
	if original == optimized {
		return 0
	}
	before := len(strings.Fields(original))
	after := len(strings.Fields(optimized))
	if after > before {
		return math.Min(float64(after-before)*0.1, 0.3)
	}
	return 0.15
}

func (f Feedback) validate() error {
	if strings.TrimSpace(f.Query) == "" {
		return &search.ValidationError{Field: "query", Message: "must not be blank"}
	}
	if f.Rating != nil && (*f.Rating < 1 || *f.Rating > 5) {
		return &search.ValidationError{Field: "satisfaction", Message: "must be within 1..5"}
	}
	for _, c := range f.ClickedResults {
		if c < 0 {
			return &search.ValidationError{Field: "clicked_results", Message: "indices must be non-negative"}
		}
	}
	if f.TimeSpent < 0 || f.ResultCount < 0 {
		return &search.ValidationError{Field: "feedback", Message: "counts must be non-negative"}
	}
	return nil
}

// IsSuccess reports whether feedback counts as a successful search.
func (o *Optimizer) IsSuccess(f Feedback) bool {
	return len(f.ClickedResults) > 0 && f.Rating != nil && *f.Rating >= o.successRating
}

// RecordFeedback validates f and schedules learning and persistence in the
// background. A full queue drops the feedback.
func (o *Optimizer) RecordFeedback(f Feedback) error {
	if err := f.validate(); err != nil {
		return err
	}

	success := o.IsSuccess(f)
	outcome := "failure"
	if success {
		outcome = "success"
	}
	metrics.FeedbackEvents.WithLabelValues(outcome).Inc()

	o.statsMu.Lock()
	o.stats.FeedbackEvents++
	if success {
		o.stats.LearnedSuccesses++
	} else {
		o.stats.LearnedFailures++
	}
	o.statsMu.Unlock()

	terms := search.Tokens(f.Query)
	kind := models.PatternRefinement
	if success {
		kind = models.PatternExpansion
	}
	o.submitLearning(kind, terms, nil, success)

	if success && f.ReformulatedFrom != "" {
		if added := addedTerms(f.ReformulatedFrom, f.Query); len(added) > 0 {
			o.submitLearning(models.PatternExpansion, search.Tokens(f.ReformulatedFrom), added, true)
		}
	}

	record := &models.FeedbackRecord{
		SessionID:        f.SessionID,
		Query:            f.Query,
		ResultCount:      f.ResultCount,
		ClickedResults:   append([]int{}, f.ClickedResults...),
		TimeSpent:        f.TimeSpent,
		Satisfaction:     f.Rating,
		ReformulatedFrom: f.ReformulatedFrom,
		CreatedAt:        o.now().UTC(),
	}
	if !o.queue.Submit("store_feedback", func(ctx context.Context) error {
		return o.store.InsertFeedback(ctx, record)
	}) {
		logger.Warn("Feedback record dropped",
			zap.Error(&search.LearningError{Op: "store_feedback", Err: errQueueFull}),
		)
	}
	return nil
}

var errQueueFull = errors.New("background queue unavailable")

// submitLearning folds the outcome into the cache once, then persists the
// resulting snapshot. Retries only repeat the write.
func (o *Optimizer) submitLearning(kind models.PatternType, terms, improved []string, success bool) {
	var snapshot *models.QueryPattern
	ok := o.queue.Submit("learn_pattern", func(ctx context.Context) error {
		if snapshot == nil {
			snapshot = o.learn(kind, terms, improved, success)
		}
		return o.store.UpsertPattern(ctx, snapshot)
	})
	if !ok {
		logger.Warn("Pattern update dropped",
			zap.String("pattern_type", string(kind)),
			zap.Error(&search.LearningError{Op: "learn_pattern", Err: errQueueFull}),
		)
	}
}

func (o *Optimizer) learn(kind models.PatternType, terms, improved []string, success bool) *models.QueryPattern {
	key := models.PatternKey(kind, terms)
	now := o.now().UTC()

	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.patterns[key]
	if !ok {
		p = models.NewPattern(kind, terms, now)
		o.patterns[key] = p
	}
	p.Record(success, now)
	p.MergeImproved(improved)
	metrics.CachedPatterns.Set(float64(len(o.patterns)))

	snapshot := p.Clone()
	return &snapshot
}

// addedTerms returns tokens of next that are absent from prev, in order.
func addedTerms(prev, next string) []string {
	have := make(map[string]struct{})
	for _, t := range search.Tokens(prev) {
		have[t] = struct{}{}
	}
	var out []string
	for _, t := range search.Tokens(next) {
		if _, ok := have[t]; ok {
			continue
		}
		have[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// RecordSessionSatisfaction folds a finished session's satisfaction into the running average.
func (o *Optimizer) RecordSessionSatisfaction(score float64) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	n := float64(o.stats.RatedSessions)
	o.stats.AvgSatisfaction = (o.stats.AvgSatisfaction*n + score) / (n + 1)
	o.stats.RatedSessions++
}

func (o *Optimizer) Stats() Stats {
	o.statsMu.Lock()
	s := o.stats
	o.statsMu.Unlock()

	o.mu.RLock()
	s.CachedPatterns = len(o.patterns)
	o.mu.RUnlock()

	s.Queue = o.queue.Stats()
	return s
}

// Patterns returns a snapshot of the cache ordered by key.
func (o *Optimizer) Patterns() []models.QueryPattern {
	o.mu.RLock()
	out := make([]models.QueryPattern, 0, len(o.patterns))
	for _, p := range o.patterns {
		out = append(out, p.Clone())
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// TopPatterns orders patterns by SuccessRate*Confidence.
func (o *Optimizer) TopPatterns(limit int) []models.QueryPattern {
	all := o.Patterns()
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].SuccessRate*all[i].Confidence > all[j].SuccessRate*all[j].Confidence
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Import replaces cached patterns with the given ones, clamped, and persists
// them. It returns once they are written.
func (o *Optimizer) Import(ctx context.Context, patterns []models.QueryPattern) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	for i := range patterns {
		if t := patterns[i].PatternType; t != models.PatternExpansion && t != models.PatternRefinement {
			return 0, &search.ValidationError{Field: "pattern_type", Message: fmt.Sprintf("unknown type %q", t)}
		}
	}

	now := o.now().UTC()
	imported := make([]*models.QueryPattern, 0, len(patterns))

	o.mu.Lock()
	for i := range patterns {
		p := patterns[i].Clone()
		p.Clamp()
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		o.patterns[p.Key()] = &p
		snapshot := p.Clone()
		imported = append(imported, &snapshot)
	}
	metrics.CachedPatterns.Set(float64(len(o.patterns)))
	o.mu.Unlock()

	// jobs run on the single queue consumer; errs is read after Drain
	errs := make([]error, len(imported))
	for i, p := range imported {
		i, p := i, p
		if !o.queue.Submit("import_pattern", func(ctx context.Context) error {
			errs[i] = o.store.UpsertPattern(ctx, p)
			return errs[i]
		}) {
			return 0, &search.LearningError{Op: "import_pattern", Err: errQueueFull}
		}
	}
	o.queue.Drain()

	for _, err := range errs {
		if err != nil {
			return len(imported), &search.LearningError{Op: "import_pattern", Err: err}
		}
	}

	logger.Info("Patterns imported", zap.Int("count", len(imported)))
	return len(imported), nil
}

// Drain waits for scheduled learning to be persisted.
func (o *Optimizer) Drain() {
	o.queue.Drain()
}

func (o *Optimizer) Close() {
	if o.ownsQueue {
		o.queue.Close()
	}
}
