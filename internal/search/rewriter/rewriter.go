// Package rewriter enriches a raw query with entities, intent, synonym
// expansions and model-generated variations.
package rewriter

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/metrics"
	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/pkg/logger"
)

type intentRule struct {
	intent   search.Intent
	patterns []string
}

// intentRules are checked in order; the first rule with a pattern contained in
// the lowercased query wins.
var intentRules = []intentRule{
	{search.IntentComparison, []string{"compare", "difference", "versus", "vs", "better", "worse"}},
	{search.IntentDefinition, []string{"what is", "define", "meaning", "definition"}},
	{search.IntentFactual, []string{"when", "where", "who", "how many", "how much"}},
	{search.IntentAnalytical, []string{"why", "how", "analyze", "explain", "reason"}},
	{search.IntentProcedural, []string{"how to", "steps", "process", "procedure"}},
	{search.IntentTemporal, []string{"latest", "recent", "current", "new", "updated"}},
}

var synonyms = map[string][]string{
	"document":  {"file", "paper", "report", "text"},
	"table":     {"chart", "graph", "data", "figure"},
	"image":     {"picture", "photo", "diagram", "illustration"},
	"company":   {"organization", "business", "firm", "corporation"},
	"financial": {"money", "revenue", "profit", "income", "cost"},
}

const variationPrompt = `Given this search query: "%s"

Generate 3 alternative ways to ask the same question that might find different relevant documents:
1. More specific version
2. More general version
3. Different perspective/angle

Return only the 3 alternative queries, one per line.`

var numbering = regexp.MustCompile(`^\d+\.\s*`)

type Rewriter struct {
	extractor   search.EntityExtractor
	completion  search.Completion
	embedder    search.Embedder
	callTimeout time.Duration
}

type Option func(*Rewriter)

// WithCallTimeout bounds each collaborator call.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Rewriter) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// WithEmbedder enables ordering variations by similarity to the query.
func WithEmbedder(e search.Embedder) Option {
	return func(r *Rewriter) { r.embedder = e }
}

// New builds a rewriter. Either collaborator may be nil, in which case the
// corresponding enrichment is skipped.
func New(extractor search.EntityExtractor, completion search.Completion, opts ...Option) *Rewriter {
	r := &Rewriter{
		extractor:   extractor,
		completion:  completion,
		callTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rewrite never fails: collaborator errors degrade the affected field and are logged.
func (r *Rewriter) Rewrite(ctx context.Context, query string, contextEntities []string) search.RewriteResult {
	entities := r.ExtractEntities(ctx, query)
	intent := ClassifyIntent(query)

	result := search.RewriteResult{
		OriginalQuery:   query,
		RewrittenQuery:  rewriteWithContext(query, entities, contextEntities),
		ExpandedQueries: ExpandTerms(query),
		Variations:      r.Variations(ctx, query),
		Entities:        entities,
		Intent:          intent,
		Confidence:      confidence(query, entities, intent),
	}

	metrics.RewriteConfidence.Observe(result.Confidence)
	logger.Debug("Query rewritten",
		zap.String("intent", string(intent)),
		zap.Float64("confidence", result.Confidence),
		zap.Int("expansions", len(result.ExpandedQueries)),
		zap.Int("variations", len(result.Variations)),
	)
	return result
}

// ExtractEntities groups the extractor's output by type. Every known type is
// present in the result, possibly empty.
func (r *Rewriter) ExtractEntities(ctx context.Context, query string) search.Entities {
	if r.extractor == nil {
		return search.NewEntities(nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	list, err := r.extractor.Extract(callCtx, query)
	if err != nil {
		logger.Warn("Entity extraction failed",
			zap.Error(search.Dependency("extractor", "extract", err)),
		)
		return search.NewEntities(nil)
	}
	return search.NewEntities(list)
}

func ClassifyIntent(query string) search.Intent {
	lower := strings.ToLower(query)
	for _, rule := range intentRules {
		for _, p := range rule.patterns {
			if strings.Contains(lower, p) {
				return rule.intent
			}
		}
	}
	return search.IntentGeneral
}

// ExpandTerms returns the lowercased query followed by one variant per synonym
// of each expandable token. Duplicates are removed, first occurrence kept.
func ExpandTerms(query string) []string {
	tokens := search.Tokens(query)
	base := strings.Join(tokens, " ")

	out := []string{base}
	seen := map[string]struct{}{base: {}}

	for _, tok := range tokens {
		alts, ok := synonyms[tok]
		if !ok {
			continue
		}
		for _, alt := range alts {
			variant := make([]string, len(tokens))
			copy(variant, tokens)
			for j := range variant {
				if tokens[j] == tok {
					variant[j] = alt
				}
			}
			v := strings.Join(variant, " ")
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func rewriteWithContext(query string, entities search.Entities, contextEntities []string) string {
	var parts []string

	if len(strings.Fields(query)) <= 2 {
		if len(contextEntities) > 0 {
			parts = append(parts, fmt.Sprintf("Find information about %s related to %s", query, strings.Join(contextEntities, ", ")))
		} else {
			parts = append(parts, fmt.Sprintf("Search for documents containing information about %s", query))
		}
	} else {
		parts = append(parts, query)
	}

	if orgs := entities[search.EntityOrg]; len(orgs) > 0 {
		parts = append(parts, "Include results for organizations: "+strings.Join(orgs, ", "))
	}
	if people := entities[search.EntityPerson]; len(people) > 0 {
		parts = append(parts, "Include results for people: "+strings.Join(people, ", "))
	}

	return strings.Join(parts, " ")
}

// Variations asks the completion model for three alternative phrasings.
// Any failure yields an empty list.
func (r *Rewriter) Variations(ctx context.Context, query string) []string {
	if r.completion == nil || strings.TrimSpace(query) == "" {
		return []string{}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	text, err := r.completion.Generate(callCtx, fmt.Sprintf(variationPrompt, query))
	if err != nil {
		logger.Warn("Variation generation failed",
			zap.Error(search.Dependency("completion", "variations", err)),
		)
		return []string{}
	}

	variations := parseVariations(text, query)
	if r.embedder != nil && len(variations) > 1 {
		variations = r.rankBySimilarity(ctx, query, variations)
	}
	return variations
}

func parseVariations(text, query string) []string {
	out := []string{}
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		cleaned := strings.TrimSpace(numbering.ReplaceAllString(strings.TrimSpace(line), ""))
		if cleaned == "" || cleaned == query {
			continue
		}
		out = append(out, cleaned)
	}
	return out
}

// rankBySimilarity orders candidates by cosine similarity to the query. The
// input order is kept if any embedding fails.
func (r *Rewriter) rankBySimilarity(ctx context.Context, query string, candidates []string) []string {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	qv, err := r.embedder.Encode(callCtx, query)
	if err != nil {
		logger.Debug("Variation ranking skipped", zap.Error(err))
		return candidates
	}

	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		cv, err := r.embedder.Encode(callCtx, c)
		if err != nil {
			logger.Debug("Variation ranking skipped", zap.Error(err))
			return candidates
		}
		scores[c] = cosine(qv, cv)
	}

	ranked := append([]string(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})
	return ranked
}

// Suggestions returns alternative phrasings for a partially typed query.
func (r *Rewriter) Suggestions(ctx context.Context, partial string) []string {
	return r.Variations(ctx, partial)
}

func confidence(query string, entities search.Entities, intent search.Intent) float64 {
	c := 0.5
	if !entities.Empty() {
		c += 0.2
	}
	if intent != search.IntentGeneral {
		c += 0.2
	}
	if len(strings.Fields(query)) >= 3 {
		c += 0.1
	}
	return math.Min(c, 1.0)
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
