package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptive-search/backend/internal/kg/neo4j"
	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/search/searchtest"
)

type graphFunc func(ctx context.Context, doc neo4j.Document) error

func (f graphFunc) UpsertDocument(ctx context.Context, doc neo4j.Document) error { return f(ctx, doc) }

func TestParseQA(t *testing.T) {
	reply := `Here you go:
1. Q: What was Apple's revenue?
A: 383 billion dollars
Question: Who audited the accounts?
Answer:
Q: What was Apple's revenue?
A: repeated
q. When was the invoice due?
a. March 2024`

	assert.Equal(t, [][2]string{
		{"What was Apple's revenue?", "383 billion dollars"},
		{"When was the invoice due?", "March 2024"},
	}, parseQA(reply))
	assert.Empty(t, parseQA("no pairs here"))
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("writes questions and entities", func(t *testing.T) {
		var written neo4j.Document
		graph := graphFunc(func(ctx context.Context, doc neo4j.Document) error {
			written = doc
			return nil
		})
		llm := &searchtest.Completion{Reply: "Q: Who paid?\nA: Apple\nQ: How much?\nA: 10 dollars\nQ: When?\nA: May"}
		extractor := &searchtest.Extractor{Orgs: []string{"Apple"}}

		doc, err := NewBuilder(graph, llm, extractor, WithMaxQuestions(2)).
			Build(ctx, Source{ID: "doc1", Title: "Invoice", Text: "Apple paid Apple invoice"})
		require.NoError(t, err)

		require.Len(t, doc.Questions, 2)
		assert.Equal(t, "Who paid?", doc.Questions[0].Question)
		assert.Regexp(t, `^doc1_qa_[0-9a-f]{12}$`, doc.Questions[0].ID)
		assert.NotEqual(t, doc.Questions[0].ID, doc.Questions[1].ID)
		assert.Equal(t, []search.Entity{{Type: search.EntityOrg, Text: "Apple"}}, doc.Entities)
		assert.Equal(t, *doc, written)
		assert.Contains(t, llm.Prompts()[0], "Apple paid Apple invoice")
	})

	t.Run("generation failures still write the document", func(t *testing.T) {
		calls := 0
		graph := graphFunc(func(ctx context.Context, doc neo4j.Document) error {
			calls++
			return nil
		})
		llm := &searchtest.Completion{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", errors.New("llm down")
		}}
		extractor := &searchtest.Extractor{ExtractFunc: func(ctx context.Context, text string) ([]search.Entity, error) {
			return nil, errors.New("ner down")
		}}

		doc, err := NewBuilder(graph, llm, extractor).Build(ctx, Source{ID: "doc2", Text: "text"})
		require.NoError(t, err)
		assert.Empty(t, doc.Questions)
		assert.Empty(t, doc.Entities)
		assert.Equal(t, 1, calls)
	})

	t.Run("write failure is returned", func(t *testing.T) {
		graph := graphFunc(func(ctx context.Context, doc neo4j.Document) error {
			return errors.New("neo4j down")
		})
		_, err := NewBuilder(graph, nil, nil).Build(ctx, Source{ID: "doc3", Text: "text"})
		assert.ErrorContains(t, err, "neo4j down")
	})

	t.Run("empty text is rejected", func(t *testing.T) {
		_, err := NewBuilder(graphFunc(nil), nil, nil).Build(ctx, Source{ID: "doc4", Text: "  "})
		assert.True(t, search.IsValidation(err))
	})
}
