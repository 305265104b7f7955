package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestPatternKey(t *testing.T) {
	assert.Equal(t, "refinement:find-invoice", PatternKey(PatternRefinement, []string{"invoice", "Find", "invoice"}))
	assert.Equal(t, "expansion:", PatternKey(PatternExpansion, nil))

	p := NewPattern(PatternExpansion, []string{"b", "a"}, time.Now())
	assert.Equal(t, "expansion:a-b", p.Key())
	assert.Equal(t, []string{"a", "b"}, p.OriginalTerms)
}

func TestQueryPatternRecord(t *testing.T) {
	now := time.Now()
	p := NewPattern(PatternRefinement, []string{"find", "invoice"}, now)

	for i := 0; i < 3; i++ {
		p.Record(false, now)
	}
	assert.Equal(t, 3, p.UsageCount)
	assert.Equal(t, 0.0, p.SuccessRate)
	assert.Equal(t, 0.0, p.Confidence)

	p.Record(true, now)
	assert.InDelta(t, 0.25, p.SuccessRate, 1e-9)
	assert.InDelta(t, 0.1, p.Confidence, 1e-9)
}

func TestQueryPatternMergeImproved(t *testing.T) {
	p := NewPattern(PatternExpansion, []string{"revenue"}, time.Now())
	p.MergeImproved([]string{"Income", "revenue", "income", " "})
	assert.Equal(t, []string{"income"}, p.ImprovedTerms)
}

func TestQueryPatternClamp(t *testing.T) {
	p := QueryPattern{SuccessRate: 1.7, Confidence: math.NaN(), UsageCount: -2}
	p.Clamp()
	assert.Equal(t, 1.0, p.SuccessRate)
	assert.Equal(t, 0.0, p.Confidence)
	assert.Equal(t, 0, p.UsageCount)
	assert.NotNil(t, p.ImprovedTerms)
}

func TestProperty_PatternRatesStayBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		outcomes := rapid.SliceOfN(rapid.Bool(), 1, 200).Draw(rt, "outcomes")
		p := NewPattern(PatternExpansion, []string{"q"}, time.Now())

		successes := 0
		for _, ok := range outcomes {
			p.Record(ok, time.Now())
			if ok {
				successes++
			}
			if p.SuccessRate < 0 || p.SuccessRate > 1 {
				rt.Fatalf("success rate out of bounds: %v", p.SuccessRate)
			}
			if p.Confidence < 0 || p.Confidence > 1 {
				rt.Fatalf("confidence out of bounds: %v", p.Confidence)
			}
		}

		if p.UsageCount != len(outcomes) {
			rt.Fatalf("usage count %d, want %d", p.UsageCount, len(outcomes))
		}
		want := float64(successes) / float64(len(outcomes))
		if math.Abs(p.SuccessRate-want) > 1e-9 {
			rt.Fatalf("success rate %v, want running mean %v", p.SuccessRate, want)
		}
	})
}
