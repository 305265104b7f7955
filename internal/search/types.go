// Package search holds the data model shared by the query pipeline stages and
// the narrow interfaces through which the pipeline reaches external services.
package search

import (
	"sort"
	"time"
)

type EntityType string

const (
	EntityPerson  EntityType = "PERSON"
	EntityOrg     EntityType = "ORG"
	EntityMoney   EntityType = "MONEY"
	EntityDate    EntityType = "DATE"
	EntityGPE     EntityType = "GPE"
	EntityProduct EntityType = "PRODUCT"
)

// EntityTypes lists the recognised types in reporting order.
var EntityTypes = []EntityType{EntityPerson, EntityOrg, EntityMoney, EntityDate, EntityGPE, EntityProduct}

type Entity struct {
	Type EntityType `json:"type"`
	Text string     `json:"text"`
}

// Entities groups entity surface forms by type.
type Entities map[EntityType][]string

// NewEntities groups extracted entities, dropping unknown types and duplicates.
func NewEntities(list []Entity) Entities {
	out := make(Entities, len(EntityTypes))
	for _, t := range EntityTypes {
		out[t] = []string{}
	}
	for _, e := range list {
		values, ok := out[e.Type]
		if !ok || e.Text == "" {
			continue
		}
		dup := false
		for _, v := range values {
			if v == e.Text {
				dup = true
				break
			}
		}
		if !dup {
			out[e.Type] = append(values, e.Text)
		}
	}
	return out
}

// Empty reports whether no entity of any type is present.
func (e Entities) Empty() bool {
	for _, values := range e {
		if len(values) > 0 {
			return false
		}
	}
	return true
}

func (e Entities) Has(t EntityType) bool {
	return len(e[t]) > 0
}

// Flatten returns entities in type order, then insertion order.
func (e Entities) Flatten() []Entity {
	var out []Entity
	for _, t := range EntityTypes {
		for _, v := range e[t] {
			out = append(out, Entity{Type: t, Text: v})
		}
	}
	return out
}

type Intent string

const (
	IntentComparison Intent = "comparison"
	IntentDefinition Intent = "definition"
	IntentFactual    Intent = "factual"
	IntentAnalytical Intent = "analytical"
	IntentProcedural Intent = "procedural"
	IntentTemporal   Intent = "temporal"
	IntentGeneral    Intent = "general"
)

type RewriteResult struct {
	OriginalQuery   string   `json:"original_query"`
	RewrittenQuery  string   `json:"rewritten_query"`
	ExpandedQueries []string `json:"expanded_queries"`
	Variations      []string `json:"variations"`
	Entities        Entities `json:"entities"`
	Intent          Intent   `json:"intent"`
	Confidence      float64  `json:"confidence"`
}

type OptimizationType string

const (
	OptimizationTermExpansion   OptimizationType = "term_expansion"
	OptimizationQueryRefinement OptimizationType = "query_refinement"
)

type Optimization struct {
	Type       OptimizationType `json:"type"`
	Original   string           `json:"original"`
	Optimized  string           `json:"optimized"`
	Confidence float64          `json:"confidence"`
}

type OptimizeResult struct {
	OriginalQuery        string         `json:"original_query"`
	OptimizedQuery       string         `json:"optimized_query"`
	OptimizationsApplied []Optimization `json:"optimizations_applied"`
	Confidence           float64        `json:"confidence"`
	ExpectedImprovement  float64        `json:"expected_improvement"`
}

type Source string

const (
	SourceVector Source = "vector"
	SourceGraph  Source = "graph"
	SourceHybrid Source = "hybrid"
)

type SearchResult struct {
	Content      string         `json:"content"`
	Score        float64        `json:"score"`
	Source       Source         `json:"source"`
	StrategyUsed string         `json:"strategy_used"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// SortByScore orders results by descending score, keeping the input order on ties.
func SortByScore(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

type RankedResult struct {
	SearchResult
	OriginalScore float64 `json:"original_score"`
	TopicScore    float64 `json:"topic_score"`
	DomainScore   float64 `json:"domain_score"`
	FinalScore    float64 `json:"final_score"`
	TopicIDs      []int   `json:"topic_ids"`
}

type AgentPerformance struct {
	Name              string        `json:"name"`
	Priority          int           `json:"priority"`
	LastExecutionTime time.Duration `json:"last_execution_time"`
	SuccessRate       float64       `json:"success_rate"`
	Invocations       int           `json:"invocations"`
	Failures          int           `json:"failures"`
}

// Record applies the outcome of one call to the running performance figures.
func (p *AgentPerformance) Record(elapsed time.Duration, success bool) {
	p.LastExecutionTime = elapsed
	p.Invocations++
	if success {
		p.SuccessRate = min(1.0, p.SuccessRate+0.01)
		return
	}
	p.Failures++
	p.SuccessRate = max(0.0, p.SuccessRate-0.05)
}

type TopicInfo struct {
	TopicID           int      `json:"topic_id"`
	Keywords          []string `json:"keywords"`
	DocumentCount     int      `json:"document_count"`
	AverageConfidence float64  `json:"average_confidence"`
}
