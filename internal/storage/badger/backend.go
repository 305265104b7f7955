package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/storage"
	"github.com/adaptive-search/backend/internal/storage/models"
	"github.com/adaptive-search/backend/pkg/logger"
)

const (
	patternPrefix  = "pat:"
	sessionPrefix  = "ses:"
	feedbackPrefix = "fbk:"
	queryPrefix    = "qry:"
	documentPrefix = "doc:"
	feedbackSeq    = "seq:feedback"

	sequenceBandwidth = 100
)

// Backend is an embedded alternative to the SQLite store. Values are JSON.
type Backend struct {
	db     *badger.DB
	seq    *badger.Sequence
	mu     sync.Mutex
	logger *zap.Logger
}

var _ storage.Store = (*Backend)(nil)

type zapAdapter struct {
	log *zap.SugaredLogger
}

var _ badger.Logger = (*zapAdapter)(nil)

func (z *zapAdapter) Errorf(msg string, items ...any)   { z.log.Errorf(msg, items...) }
func (z *zapAdapter) Warningf(msg string, items ...any) { z.log.Warnf(msg, items...) }
func (z *zapAdapter) Infof(msg string, items ...any)    { z.log.Debugf(msg, items...) }
func (z *zapAdapter) Debugf(msg string, items ...any)   { z.log.Debugf(msg, items...) }

// Open opens (creating if needed) a Badger directory, or an in-memory database.
func Open(path string, inMemory bool) (*Backend, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}

	log := logger.Named("badger")
	opts.Logger = &zapAdapter{log: log.Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(feedbackSeq), sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open feedback sequence: %w", err)
	}

	log.Info("Badger store initialized", zap.String("path", path), zap.Bool("in_memory", inMemory))

	return &Backend{db: db, seq: seq, logger: log}, nil
}

func (b *Backend) Close() error {
	if err := b.seq.Release(); err != nil {
		b.logger.Warn("Failed to release sequence", zap.Error(err))
	}
	return b.db.Close()
}

func (b *Backend) put(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return b.db.Update(func(tx *badger.Txn) error {
		return tx.Set([]byte(key), data)
	})
}

func (b *Backend) get(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// scan decodes every value under prefix with decode.
func (b *Backend) scan(ctx context.Context, prefix string, decode func(val []byte) error) error {
	return b.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := iter.Item().Value(decode); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Backend) UpsertPattern(ctx context.Context, p *models.QueryPattern) error {
	p.Clamp()
	if len(p.OriginalTerms) == 0 {
		return fmt.Errorf("pattern without terms: %w", storage.ErrInvalidKey)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := patternPrefix + p.Key()
	var existing models.QueryPattern
	if err := b.get(ctx, key, &existing); err == nil {
		p.CreatedAt = existing.CreatedAt
	}
	return b.put(ctx, key, p)
}

func (b *Backend) GetPattern(ctx context.Context, key string) (*models.QueryPattern, error) {
	var p models.QueryPattern
	if err := b.get(ctx, patternPrefix+key, &p); err != nil {
		return nil, err
	}
	p.Clamp()
	return &p, nil
}

func (b *Backend) ListPatterns(ctx context.Context) ([]models.QueryPattern, error) {
	var out []models.QueryPattern
	err := b.scan(ctx, patternPrefix, func(val []byte) error {
		var p models.QueryPattern
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		p.Clamp()
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	return out, nil
}

func (b *Backend) SaveSession(ctx context.Context, s *models.QuerySession) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.put(ctx, sessionPrefix+s.SessionID, s)
}

func (b *Backend) GetSession(ctx context.Context, id string) (*models.QuerySession, error) {
	var s models.QuerySession
	if err := b.get(ctx, sessionPrefix+id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *Backend) ListSessions(ctx context.Context, limit int) ([]models.QuerySession, error) {
	var out []models.QuerySession
	err := b.scan(ctx, sessionPrefix, func(val []byte) error {
		var s models.QuerySession
		if err := json.Unmarshal(val, &s); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return truncate(out, limit), nil
}

func (b *Backend) InsertFeedback(ctx context.Context, f *models.FeedbackRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, err := b.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate feedback id: %w", err)
	}
	// sequences start at zero
	f.ID = int64(id) + 1
	return b.put(ctx, fmt.Sprintf("%s%020d", feedbackPrefix, f.ID), f)
}

func (b *Backend) ListFeedback(ctx context.Context, limit int) ([]models.FeedbackRecord, error) {
	var out []models.FeedbackRecord
	err := b.scan(ctx, feedbackPrefix, func(val []byte) error {
		var f models.FeedbackRecord
		if err := json.Unmarshal(val, &f); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return truncate(out, limit), nil
}

func (b *Backend) InsertQueryRecord(ctx context.Context, r *models.QueryRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.put(ctx, fmt.Sprintf("%s%020d:%s", queryPrefix, r.CreatedAt.UnixNano(), r.ID), r)
}

func (b *Backend) ListQueryRecords(ctx context.Context, limit int) ([]models.QueryRecord, error) {
	var out []models.QueryRecord
	err := b.scan(ctx, queryPrefix, func(val []byte) error {
		var r models.QueryRecord
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list query history: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (b *Backend) InsertDocument(ctx context.Context, doc *models.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.put(ctx, documentPrefix+doc.ID, doc)
}

func (b *Backend) ListDocumentTexts(ctx context.Context, limit int) ([]string, error) {
	var docs []models.Document
	err := b.scan(ctx, documentPrefix, func(val []byte) error {
		var d models.Document
		if err := json.Unmarshal(val, &d); err != nil {
			return err
		}
		docs = append(docs, d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	docs = truncate(docs, limit)

	texts := make([]string, 0, len(docs))
	for _, d := range docs {
		texts = append(texts, d.Text)
	}
	return texts, nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
