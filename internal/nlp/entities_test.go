package nlp

import (
	"context"
	"testing"

	"github.com/jdkato/prose/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptive-search/backend/internal/search"
)

func TestMatchPatterns(t *testing.T) {
	orgs := map[string]struct{}{"apple": {}, "google": {}}
	got := matchPatterns("compare revenue Apple Google: $5.2 billion in Q3 2023 vs Acme Holdings", orgs)

	assert.Contains(t, got, search.Entity{Type: search.EntityMoney, Text: "$5.2 billion"})
	assert.Contains(t, got, search.Entity{Type: search.EntityDate, Text: "Q3 2023"})
	assert.Contains(t, got, search.Entity{Type: search.EntityOrg, Text: "Apple"})
	assert.Contains(t, got, search.Entity{Type: search.EntityOrg, Text: "Google"})
	assert.Contains(t, got, search.Entity{Type: search.EntityOrg, Text: "Acme Holdings"})
}

func TestExtract(t *testing.T) {
	e := NewExtractor("Apple", "Google")

	t.Run("known organisations and money", func(t *testing.T) {
		got, err := e.Extract(context.Background(), "compare revenue Apple Google 500 dollars")
		require.NoError(t, err)

		grouped := search.NewEntities(got)
		assert.Contains(t, grouped[search.EntityOrg], "Apple")
		assert.Contains(t, grouped[search.EntityOrg], "Google")
		assert.Contains(t, grouped[search.EntityMoney], "500 dollars")
	})

	t.Run("blank input", func(t *testing.T) {
		got, err := e.Extract(context.Background(), "   ")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := e.Extract(ctx, "Apple")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestExtract_ReusesLoadedModel(t *testing.T) {
	e := NewExtractor()
	require.NotNil(t, e.model)

	var used []*prose.Model
	orig := newDocument
	t.Cleanup(func() { newDocument = orig })
	newDocument = func(text string, opts ...prose.DocOpt) (*prose.Document, error) {
		doc, err := orig(text, opts...)
		if doc != nil {
			used = append(used, doc.Model)
		}
		return doc, err
	}

	for _, q := range []string{"compare revenue Apple Google", "Barack Obama visited Paris"} {
		_, err := e.Extract(context.Background(), q)
		require.NoError(t, err)
	}
	require.Len(t, used, 2)
	assert.Same(t, e.model, used[0])
	assert.Same(t, e.model, used[1])
}

func TestExtract_WithoutModelUsesPatterns(t *testing.T) {
	e := &Extractor{orgs: map[string]struct{}{"apple": {}}}
	got, err := e.Extract(context.Background(), "Apple paid $5 million")
	require.NoError(t, err)

	grouped := search.NewEntities(got)
	assert.Contains(t, grouped[search.EntityOrg], "Apple")
	assert.Contains(t, grouped[search.EntityMoney], "$5 million")
}

func TestDedupe(t *testing.T) {
	in := []search.Entity{{Type: search.EntityOrg, Text: "Apple"}, {Type: search.EntityOrg, Text: "APPLE"}, {Type: search.EntityPerson, Text: "Apple"}}
	assert.Len(t, dedupe(in), 2)
}
