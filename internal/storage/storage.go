// Package storage defines the durable state of the learning loop. Backends live
// in subpackages.
package storage

import (
	"context"
	"errors"

	"github.com/adaptive-search/backend/internal/storage/models"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidKey = errors.New("invalid key")
)

// PatternStore persists learned patterns and the interaction history they are
// learned from. UpsertPattern replaces the row with the same Key().
type PatternStore interface {
	UpsertPattern(ctx context.Context, p *models.QueryPattern) error
	GetPattern(ctx context.Context, key string) (*models.QueryPattern, error)
	ListPatterns(ctx context.Context) ([]models.QueryPattern, error)

	SaveSession(ctx context.Context, s *models.QuerySession) error
	GetSession(ctx context.Context, id string) (*models.QuerySession, error)
	ListSessions(ctx context.Context, limit int) ([]models.QuerySession, error)

	InsertFeedback(ctx context.Context, f *models.FeedbackRecord) error
	ListFeedback(ctx context.Context, limit int) ([]models.FeedbackRecord, error)

	InsertQueryRecord(ctx context.Context, r *models.QueryRecord) error
	ListQueryRecords(ctx context.Context, limit int) ([]models.QueryRecord, error)

	Close() error
}

// CorpusStore keeps indexed document text for topic model fitting.
type CorpusStore interface {
	InsertDocument(ctx context.Context, doc *models.Document) error
	ListDocumentTexts(ctx context.Context, limit int) ([]string, error)
}

// Store is implemented by every backend.
type Store interface {
	PatternStore
	CorpusStore
}
