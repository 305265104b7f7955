package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/storage"
	"github.com/adaptive-search/backend/internal/storage/models"
	"github.com/adaptive-search/backend/pkg/logger"
)

// Client is the SQLite-backed store. Writes are serialized through mu so
// read-modify-write callers never interleave on the single connection pool.
type Client struct {
	db *sql.DB
	mu sync.Mutex
}

var _ storage.Store = (*Client)(nil)

var openDB = func(path string) (*sql.DB, error) { return sql.Open("sqlite3", path) }

func NewClient(dbPath string) (*Client, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == ":memory:" {
		// every connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA foreign_keys = ON", "enable foreign keys"},
		{"PRAGMA journal_mode = WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout = 5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_patterns (
		pattern_key TEXT PRIMARY KEY,
		pattern_type TEXT NOT NULL,
		original_terms TEXT NOT NULL,
		improved_terms TEXT NOT NULL,
		success_rate REAL NOT NULL,
		usage_count INTEGER NOT NULL,
		confidence REAL NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_patterns_type ON query_patterns(pattern_type);

	CREATE TABLE IF NOT EXISTS query_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT,
		queries TEXT NOT NULL,
		clicked_results TEXT NOT NULL,
		result_scores TEXT NOT NULL,
		satisfaction_score REAL,
		success INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON query_sessions(started_at);

	CREATE TABLE IF NOT EXISTS query_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		query TEXT NOT NULL,
		result_count INTEGER NOT NULL,
		clicked_results TEXT NOT NULL,
		time_spent REAL,
		satisfaction INTEGER,
		reformulated_from TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_session ON query_feedback(session_id);
	CREATE INDEX IF NOT EXISTS idx_feedback_created ON query_feedback(created_at);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		user_id TEXT,
		query_text TEXT NOT NULL,
		optimized_query TEXT,
		intent TEXT,
		result_count INTEGER,
		agents_used TEXT,
		topic_enhanced INTEGER DEFAULT 0,
		latency_ms INTEGER,
		error TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_session ON query_history(session_id);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT,
		text TEXT NOT NULL,
		source TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) UpsertPattern(ctx context.Context, p *models.QueryPattern) error {
	p.Clamp()
	key := p.Key()
	if len(p.OriginalTerms) == 0 {
		return fmt.Errorf("pattern without terms: %w", storage.ErrInvalidKey)
	}

	query := `
		INSERT INTO query_patterns (pattern_key, pattern_type, original_terms, improved_terms,
			success_rate, usage_count, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pattern_key) DO UPDATE SET
			improved_terms = excluded.improved_terms,
			success_rate = excluded.success_rate,
			usage_count = excluded.usage_count,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at
	`

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, query,
		key,
		string(p.PatternType),
		mustJSON(p.OriginalTerms),
		mustJSON(p.ImprovedTerms),
		p.SuccessRate,
		p.UsageCount,
		p.Confidence,
		p.CreatedAt.Unix(),
		p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pattern: %w", err)
	}

	logger.Debug("Pattern upserted",
		zap.String("key", key),
		zap.Float64("success_rate", p.SuccessRate),
		zap.Int("usage_count", p.UsageCount),
	)
	return nil
}

const patternColumns = `pattern_type, original_terms, improved_terms, success_rate, usage_count, confidence, created_at, updated_at`

func (c *Client) GetPattern(ctx context.Context, key string) (*models.QueryPattern, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM query_patterns WHERE pattern_key = ?`, key)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pattern %q: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return p, nil
}

func (c *Client) ListPatterns(ctx context.Context) ([]models.QueryPattern, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+patternColumns+` FROM query_patterns ORDER BY pattern_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	var patterns []models.QueryPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		patterns = append(patterns, *p)
	}
	return patterns, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPattern(s scanner) (*models.QueryPattern, error) {
	var p models.QueryPattern
	var patternType, original, improved string
	var createdAt, updatedAt int64

	if err := s.Scan(&patternType, &original, &improved, &p.SuccessRate, &p.UsageCount, &p.Confidence, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	p.PatternType = models.PatternType(patternType)
	_ = json.Unmarshal([]byte(original), &p.OriginalTerms)
	_ = json.Unmarshal([]byte(improved), &p.ImprovedTerms)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	p.Clamp()
	return &p, nil
}

func (c *Client) SaveSession(ctx context.Context, s *models.QuerySession) error {
	query := `
		INSERT INTO query_sessions (session_id, user_id, queries, clicked_results, result_scores,
			satisfaction_score, success, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			queries = excluded.queries,
			clicked_results = excluded.clicked_results,
			result_scores = excluded.result_scores,
			satisfaction_score = excluded.satisfaction_score,
			success = excluded.success,
			ended_at = excluded.ended_at
	`

	var endedAt sql.NullInt64
	if s.EndedAt != nil {
		endedAt = sql.NullInt64{Int64: s.EndedAt.Unix(), Valid: true}
	}
	var satisfaction sql.NullFloat64
	if s.SatisfactionScore != nil {
		satisfaction = sql.NullFloat64{Float64: *s.SatisfactionScore, Valid: true}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, query,
		s.SessionID,
		s.UserID,
		mustJSON(s.Queries),
		mustJSON(s.ClickedResults),
		mustJSON(s.ResultScores),
		satisfaction,
		boolToInt(s.Success),
		s.StartedAt.Unix(),
		endedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	logger.Info("Session saved",
		zap.String("session_id", s.SessionID),
		zap.Int("queries", len(s.Queries)),
		zap.Bool("success", s.Success),
	)
	return nil
}

const sessionColumns = `session_id, user_id, queries, clicked_results, result_scores, satisfaction_score, success, started_at, ended_at`

func (c *Client) GetSession(ctx context.Context, id string) (*models.QuerySession, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM query_sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (c *Client) ListSessions(ctx context.Context, limit int) ([]models.QuerySession, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM query_sessions ORDER BY started_at DESC LIMIT ?`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.QuerySession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func scanSession(sc scanner) (*models.QuerySession, error) {
	var s models.QuerySession
	var userID sql.NullString
	var queries, clicked, scores string
	var satisfaction sql.NullFloat64
	var success int
	var startedAt int64
	var endedAt sql.NullInt64

	if err := sc.Scan(&s.SessionID, &userID, &queries, &clicked, &scores, &satisfaction, &success, &startedAt, &endedAt); err != nil {
		return nil, err
	}

	s.UserID = userID.String
	_ = json.Unmarshal([]byte(queries), &s.Queries)
	_ = json.Unmarshal([]byte(clicked), &s.ClickedResults)
	_ = json.Unmarshal([]byte(scores), &s.ResultScores)
	if satisfaction.Valid {
		v := satisfaction.Float64
		s.SatisfactionScore = &v
	}
	s.Success = success == 1
	s.StartedAt = time.Unix(startedAt, 0)
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0)
		s.EndedAt = &t
	}
	return &s, nil
}

func (c *Client) InsertFeedback(ctx context.Context, f *models.FeedbackRecord) error {
	query := `
		INSERT INTO query_feedback (session_id, query, result_count, clicked_results, time_spent,
			satisfaction, reformulated_from, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var satisfaction sql.NullInt64
	if f.Satisfaction != nil {
		satisfaction = sql.NullInt64{Int64: int64(*f.Satisfaction), Valid: true}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, query,
		f.SessionID,
		f.Query,
		f.ResultCount,
		mustJSON(f.ClickedResults),
		f.TimeSpent,
		satisfaction,
		f.ReformulatedFrom,
		f.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		f.ID = id
	}

	logger.Debug("Feedback stored",
		zap.String("session_id", f.SessionID),
		zap.Int("clicks", len(f.ClickedResults)),
	)
	return nil
}

func (c *Client) ListFeedback(ctx context.Context, limit int) ([]models.FeedbackRecord, error) {
	query := `
		SELECT id, session_id, query, result_count, clicked_results, time_spent, satisfaction, reformulated_from, created_at
		FROM query_feedback
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var records []models.FeedbackRecord
	for rows.Next() {
		var f models.FeedbackRecord
		var clicked string
		var timeSpent sql.NullFloat64
		var satisfaction sql.NullInt64
		var reformulated sql.NullString
		var createdAt int64

		if err := rows.Scan(&f.ID, &f.SessionID, &f.Query, &f.ResultCount, &clicked, &timeSpent, &satisfaction, &reformulated, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		_ = json.Unmarshal([]byte(clicked), &f.ClickedResults)
		f.TimeSpent = timeSpent.Float64
		if satisfaction.Valid {
			v := int(satisfaction.Int64)
			f.Satisfaction = &v
		}
		f.ReformulatedFrom = reformulated.String
		f.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, f)
	}
	return records, rows.Err()
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	query := `
		INSERT INTO query_history (id, session_id, user_id, query_text, optimized_query, intent,
			result_count, agents_used, topic_enhanced, latency_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, query,
		record.ID,
		record.SessionID,
		record.UserID,
		record.QueryText,
		record.OptimizedQuery,
		record.Intent,
		record.ResultCount,
		mustJSON(record.AgentsUsed),
		boolToInt(record.TopicEnhanced),
		record.LatencyMS,
		record.Error,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("query", record.QueryText),
		zap.Int64("latency_ms", record.LatencyMS),
	)
	return nil
}

func (c *Client) ListQueryRecords(ctx context.Context, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, session_id, user_id, query_text, optimized_query, intent, result_count,
			agents_used, topic_enhanced, latency_ms, error, created_at
		FROM query_history
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var sessionID, userID, optimized, intent, agents, errText sql.NullString
		var topicEnhanced int
		var createdAt int64

		if err := rows.Scan(&r.ID, &sessionID, &userID, &r.QueryText, &optimized, &intent, &r.ResultCount,
			&agents, &topicEnhanced, &r.LatencyMS, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.SessionID = sessionID.String
		r.UserID = userID.String
		r.OptimizedQuery = optimized.String
		r.Intent = intent.String
		_ = json.Unmarshal([]byte(agents.String), &r.AgentsUsed)
		r.TopicEnhanced = topicEnhanced == 1
		r.Error = errText.String
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (c *Client) InsertDocument(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (id, title, text, source, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			text = excluded.text,
			source = excluded.source
	`

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, query, doc.ID, doc.Title, doc.Text, doc.Source, doc.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("doc_id", doc.ID))
	return nil
}

func (c *Client) ListDocumentTexts(ctx context.Context, limit int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT text FROM documents ORDER BY created_at DESC LIMIT ?`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// limitOrAll maps a non-positive limit to SQLite's "no limit".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
