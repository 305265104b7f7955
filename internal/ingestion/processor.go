// Package ingestion indexes documents into every store the search agents
// read from: vector chunks, the question/answer graph and the topic corpus.
package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/kg/builder"
	"github.com/adaptive-search/backend/internal/kg/neo4j"
	"github.com/adaptive-search/backend/internal/metrics"
	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/storage"
	"github.com/adaptive-search/backend/internal/storage/models"
	"github.com/adaptive-search/backend/internal/vector/zilliz"
	"github.com/adaptive-search/backend/pkg/logger"
	"github.com/adaptive-search/backend/pkg/utils"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 100
	maxTitleRunes       = 200
)

type BatchEmbedder interface {
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type ChunkWriter interface {
	Insert(ctx context.Context, chunks []zilliz.Chunk) error
}

type GraphBuilder interface {
	Build(ctx context.Context, src builder.Source) (*neo4j.Document, error)
}

// Processor writes a document to the vector store, the graph and the corpus.
// The graph and corpus sinks are optional.
type Processor struct {
	embedder     BatchEmbedder
	chunks       ChunkWriter
	graph        GraphBuilder
	corpus       storage.CorpusStore
	chunkSize    int
	chunkOverlap int
	now          func() time.Time
}

type Option func(*Processor)

func WithGraph(g GraphBuilder) Option { return func(p *Processor) { p.graph = g } }

func WithCorpus(c storage.CorpusStore) Option { return func(p *Processor) { p.corpus = c } }

// WithChunking sets the chunk size and overlap in bytes.
func WithChunking(size, overlap int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.chunkSize = size
		}
		if overlap >= 0 && overlap < p.chunkSize {
			p.chunkOverlap = overlap
		}
	}
}

func NewProcessor(embedder BatchEmbedder, chunks ChunkWriter, opts ...Option) *Processor {
	p := &Processor{
		embedder:     embedder,
		chunks:       chunks,
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Input is one document to index. Content may be HTML or plain text; HTML
// is detected when ContentType is empty.
type Input struct {
	ID          string `json:"id,omitempty"`
	Source      string `json:"source,omitempty"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

type Result struct {
	DocID     string `json:"doc_id"`
	Title     string `json:"title"`
	Chunks    int    `json:"chunks"`
	Questions int    `json:"questions"`
	Entities  int    `json:"entities"`
	// GraphError is set when the vector write succeeded but the graph write did not.
	GraphError string `json:"graph_error,omitempty"`
}

// ProcessDocument cleans, chunks, embeds and stores one document. A vector
// store failure fails the call; graph and corpus failures are reported and
// logged so the chunks already written stay searchable.
func (p *Processor) ProcessDocument(ctx context.Context, in Input) (*Result, error) {
	text, title := in.Content, in.Title
	if isHTML(in) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(in.Content))
		if err != nil {
			return nil, &search.ValidationError{Field: "content", Message: fmt.Sprintf("unparseable html: %v", err)}
		}
		if title == "" {
			title = extractTitle(doc)
		}
		text = cleanHTML(doc)
	} else {
		text = collapseSpace(text)
	}
	if text == "" {
		return nil, &search.ValidationError{Field: "content", Message: "no text extracted"}
	}
	if title == "" {
		title = leading(text, 80)
	}

	docID := in.ID
	if docID == "" {
		key := in.Source
		if key == "" {
			key = text
		}
		docID = utils.HashString(key)
	}

	logger.Info("Processing document", zap.String("doc_id", docID), zap.String("source", in.Source))

	chunks := chunkText(text, p.chunkSize, p.chunkOverlap)
	embeddings, err := p.embedder.EncodeBatch(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	now := p.now().UTC()
	vectorChunks := make([]zilliz.Chunk, 0, len(chunks))
	for i, chunk := range chunks {
		vectorChunks = append(vectorChunks, zilliz.Chunk{
			ID:        fmt.Sprintf("%s_chunk_%d", docID, i),
			Embedding: embeddings[i],
			Text:      chunk,
			DocID:     docID,
			Title:     title,
			Source:    in.Source,
			Timestamp: now,
		})
	}
	if err := p.chunks.Insert(ctx, vectorChunks); err != nil {
		return nil, fmt.Errorf("failed to insert into vector store: %w", err)
	}

	result := &Result{DocID: docID, Title: title, Chunks: len(vectorChunks)}

	if p.graph != nil {
		doc, err := p.graph.Build(ctx, builder.Source{ID: docID, Title: title, Text: text})
		if err != nil {
			logger.Warn("Failed to build graph document", zap.String("doc_id", docID), zap.Error(err))
			result.GraphError = err.Error()
		} else {
			result.Questions = len(doc.Questions)
			result.Entities = len(doc.Entities)
		}
	}

	if p.corpus != nil {
		err := p.corpus.InsertDocument(ctx, &models.Document{
			ID:        docID,
			Title:     title,
			Text:      text,
			Source:    in.Source,
			CreatedAt: now,
		})
		if err != nil {
			logger.Warn("Failed to store corpus document", zap.String("doc_id", docID), zap.Error(err))
		}
	}

	metrics.DocumentsIndexed.Inc()
	logger.Info("Document processed successfully",
		zap.String("doc_id", docID),
		zap.Int("chunks", result.Chunks),
		zap.Int("questions", result.Questions),
	)
	return result, nil
}

func isHTML(in Input) bool {
	if in.ContentType != "" {
		return strings.Contains(strings.ToLower(in.ContentType), "html")
	}
	head := strings.ToLower(strings.TrimSpace(in.Content))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype html") || strings.Contains(head, "<html") || strings.Contains(head, "<body")
}

var whitespace = regexp.MustCompile(`\s+`)

func collapseSpace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func cleanHTML(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header, aside, noscript").Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		return collapseSpace(doc.Text())
	}
	return collapseSpace(body.Text())
}

func extractTitle(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	return leading(collapseSpace(title), maxTitleRunes)
}

func leading(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n]))
}

// chunkText packs whole words into chunks of at most size bytes; a single
// longer word gets a chunk of its own. Each chunk after the first starts with
// the trailing words of the previous one, up to overlap bytes, when they fit.
func chunkText(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	length := 0

	for _, word := range words {
		add := len(word)
		if len(current) > 0 {
			add++
		}
		if length+add > size && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = tail(current, overlap)
			length = len(strings.Join(current, " "))
			add = len(word)
			if len(current) > 0 {
				add++
			}
			if length+add > size {
				current, length, add = nil, 0, len(word)
			}
		}
		current = append(current, word)
		length += add
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// tail returns the longest suffix of words whose joined length fits budget.
func tail(words []string, budget int) []string {
	length := 0
	start := len(words)
	for start > 0 {
		add := len(words[start-1])
		if start < len(words) {
			add++
		}
		if length+add > budget {
			break
		}
		length += add
		start--
	}
	return append([]string(nil), words[start:]...)
}
