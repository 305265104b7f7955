package search

import "context"

// Embedder turns text into a dense vector.
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]Entity, error)
}

// Completion generates free text for a prompt.
type Completion interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Classifier scores text against candidate labels. Scores need not be normalised.
type Classifier interface {
	ZeroShot(ctx context.Context, text string, labels []string) (map[string]float64, error)
}

type VectorHit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

type VectorStore interface {
	Search(ctx context.Context, vector []float32, limit int, filter map[string]string) ([]VectorHit, error)
}

// GraphHit is a document/question pair whose text contains the match string.
type GraphHit struct {
	DocID     string
	DocText   string
	Question  string
	Answer    string
	Relevance int
}

type GraphNeighbor struct {
	Text         string
	Relationship string
}

type GraphStore interface {
	Query(ctx context.Context, matchText string, limit int) ([]GraphHit, error)
	Neighbors(ctx context.Context, docID, matchText string, limit int) ([]GraphNeighbor, error)
}
