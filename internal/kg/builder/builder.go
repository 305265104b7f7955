// Package builder turns cleaned document text into the question/answer graph
// the graph agent traverses.
package builder

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/kg/neo4j"
	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/pkg/logger"
	"github.com/adaptive-search/backend/pkg/utils"
)

const (
	defaultMaxQuestions = 5
	promptTextLimit     = 4000
)

// GraphWriter persists one document subgraph.
type GraphWriter interface {
	UpsertDocument(ctx context.Context, doc neo4j.Document) error
}

type Builder struct {
	graph        GraphWriter
	llm          search.Completion
	extractor    search.EntityExtractor
	maxQuestions int
}

type Option func(*Builder)

func WithMaxQuestions(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxQuestions = n
		}
	}
}

// NewBuilder wires a builder. llm and extractor are optional; without them
// documents are written with no questions or no entities.
func NewBuilder(graph GraphWriter, llm search.Completion, extractor search.EntityExtractor, opts ...Option) *Builder {
	b := &Builder{
		graph:        graph,
		llm:          llm,
		extractor:    extractor,
		maxQuestions: defaultMaxQuestions,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Source is the input for one graph document.
type Source struct {
	ID    string
	Title string
	Text  string
}

// Build generates question/answer pairs and entity mentions for src and
// writes them to the graph. Generation failures are logged and the document
// is still written; a failed write is returned.
func (b *Builder) Build(ctx context.Context, src Source) (*neo4j.Document, error) {
	if strings.TrimSpace(src.Text) == "" {
		return nil, &search.ValidationError{Field: "text", Message: "document text is empty"}
	}
	logger.Info("Building graph document", zap.String("doc_id", src.ID))

	doc := neo4j.Document{ID: src.ID, Title: src.Title, Text: src.Text}

	if b.llm != nil {
		qas, err := b.questions(ctx, src)
		if err != nil {
			logger.Warn("Failed to generate questions", zap.String("doc_id", src.ID), zap.Error(err))
		}
		doc.Questions = qas
	}

	if b.extractor != nil {
		entities, err := b.extractor.Extract(ctx, src.Text)
		if err != nil {
			logger.Warn("Failed to extract entities", zap.String("doc_id", src.ID), zap.Error(err))
		}
		doc.Entities = dedupEntities(entities)
	}

	if err := b.graph.UpsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to write graph document: %w", err)
	}

	logger.Info("Graph document built",
		zap.String("doc_id", src.ID),
		zap.Int("questions", len(doc.Questions)),
		zap.Int("entities", len(doc.Entities)),
	)
	return &doc, nil
}

func (b *Builder) questions(ctx context.Context, src Source) ([]neo4j.QA, error) {
	text := src.Text
	if runes := []rune(text); len(runes) > promptTextLimit {
		text = string(runes[:promptTextLimit])
	}

	prompt := fmt.Sprintf(`Write up to %d questions a reader could ask about the document below, each answered from the document.
Use exactly this format, one pair per block:
Q: <question>
A: <answer>

Document:
%s`, b.maxQuestions, text)

	reply, err := b.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	pairs := parseQA(reply)
	if len(pairs) > b.maxQuestions {
		pairs = pairs[:b.maxQuestions]
	}
	out := make([]neo4j.QA, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, neo4j.QA{
			ID:       fmt.Sprintf("%s_qa_%s", src.ID, utils.HashString(strings.ToLower(p[0]))[:12]),
			Question: p[0],
			Answer:   p[1],
		})
	}
	return out, nil
}

var qaLine = regexp.MustCompile(`(?i)^\s*(?:\d+[.)]\s*)?(q|question|a|answer)\s*[:.]\s*(.*)$`)

// parseQA reads "Q:"/"A:" blocks. A question without an answer is dropped,
// as is a repeated question.
func parseQA(reply string) [][2]string {
	var out [][2]string
	seen := make(map[string]bool)
	var question string

	for _, line := range strings.Split(reply, "\n") {
		m := qaLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		body := strings.TrimSpace(m[2])
		switch strings.ToLower(m[1][:1]) {
		case "q":
			question = body
		case "a":
			key := strings.ToLower(question)
			if question == "" || body == "" || seen[key] {
				question = ""
				continue
			}
			seen[key] = true
			out = append(out, [2]string{question, body})
			question = ""
		}
	}
	return out
}

func dedupEntities(entities []search.Entity) []search.Entity {
	seen := make(map[string]bool, len(entities))
	out := make([]search.Entity, 0, len(entities))
	for _, e := range entities {
		key := strings.ToLower(strings.TrimSpace(e.Text))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
