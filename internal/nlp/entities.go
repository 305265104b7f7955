// Package nlp extracts named entities from query text.
package nlp

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/pkg/logger"
)

// Extractor combines the prose NER model with patterns for the entity types
// the model does not label.
type Extractor struct {
	orgs map[string]struct{}
	// model is loaded once; tagging only reads it. Nil means patterns only.
	model *prose.Model
}

var _ search.EntityExtractor = (*Extractor)(nil)

var newDocument = prose.NewDocument

var (
	moneyPattern = regexp.MustCompile(`(?i)(?:[$€£]\s?\d[\d,]*(?:\.\d+)?(?:\s?(?:thousand|million|billion|[kmb]))?|\b\d[\d,]*(?:\.\d+)?\s?(?:dollars|usd|euros?|eur|pounds|gbp)\b)`)
	datePattern  = regexp.MustCompile(`(?i)\b(?:(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:,\s*\d{4})?|\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|q[1-4]\s+\d{4}|(?:19|20)\d{2})\b`)
	orgPattern   = regexp.MustCompile(`\b(?:[A-Z][\w&]*\s+)+(?:Inc|Corp|Corporation|Ltd|LLC|Group|Company|Co|Bank|Holdings)\b\.?`)
)

// NewExtractor loads the NER model and returns an extractor. knownOrgs are
// matched case-insensitively as whole words and reported as ORG.
func NewExtractor(knownOrgs ...string) *Extractor {
	orgs := make(map[string]struct{}, len(knownOrgs))
	for _, o := range knownOrgs {
		if o = strings.TrimSpace(o); o != "" {
			orgs[strings.ToLower(o)] = struct{}{}
		}
	}
	e := &Extractor{orgs: orgs}
	doc, err := prose.NewDocument("Warm up", prose.WithSegmentation(false))
	if err != nil {
		logger.Warn("NER model unavailable, using patterns only", zap.Error(err))
		return e
	}
	e.model = doc.Model
	return e
}

func (e *Extractor) Extract(ctx context.Context, text string) ([]search.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	entities, err := e.recognize(ctx, text)
	if err != nil {
		return nil, err
	}
	entities = append(entities, matchPatterns(text, e.orgs)...)
	return dedupe(entities), nil
}

// recognize runs the cached model off the caller's goroutine so ctx can
// abandon it.
func (e *Extractor) recognize(ctx context.Context, text string) ([]search.Entity, error) {
	if e.model == nil {
		return nil, nil
	}
	done := make(chan []search.Entity, 1)
	go func() {
		doc, err := newDocument(text, prose.WithSegmentation(false), prose.UsingModel(e.model))
		if err != nil {
			logger.Warn("NER model failed, using patterns only", zap.Error(err))
			done <- nil
			return
		}
		var out []search.Entity
		for _, ent := range doc.Entities() {
			if t, ok := mapLabel(ent.Label); ok {
				out = append(out, search.Entity{Type: t, Text: ent.Text})
			}
		}
		done <- out
	}()

	select {
	case out := <-done:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func mapLabel(label string) (search.EntityType, bool) {
	switch label {
	case "PERSON":
		return search.EntityPerson, true
	case "GPE", "LOC":
		return search.EntityGPE, true
	case "ORG", "ORGANIZATION":
		return search.EntityOrg, true
	case "PRODUCT":
		return search.EntityProduct, true
	case "MONEY":
		return search.EntityMoney, true
	case "DATE":
		return search.EntityDate, true
	}
	return "", false
}

func matchPatterns(text string, orgs map[string]struct{}) []search.Entity {
	var out []search.Entity
	for _, m := range moneyPattern.FindAllString(text, -1) {
		out = append(out, search.Entity{Type: search.EntityMoney, Text: strings.TrimSpace(m)})
	}
	for _, m := range datePattern.FindAllString(text, -1) {
		out = append(out, search.Entity{Type: search.EntityDate, Text: m})
	}
	for _, m := range orgPattern.FindAllString(text, -1) {
		out = append(out, search.Entity{Type: search.EntityOrg, Text: strings.TrimSuffix(m, ".")})
	}
	if len(orgs) > 0 {
		for _, word := range strings.FieldsFunc(text, func(r rune) bool {
			return unicode.IsSpace(r) || unicode.IsPunct(r)
		}) {
			if _, ok := orgs[strings.ToLower(word)]; ok {
				out = append(out, search.Entity{Type: search.EntityOrg, Text: word})
			}
		}
	}
	return out
}

// dedupe drops repeats by type and case-folded text, keeping first occurrence.
func dedupe(entities []search.Entity) []search.Entity {
	seen := make(map[string]struct{}, len(entities))
	out := entities[:0]
	for _, e := range entities {
		k := string(e.Type) + "\x00" + strings.ToLower(e.Text)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}
