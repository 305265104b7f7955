package controller

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/search/optimizer"
	"github.com/adaptive-search/backend/pkg/logger"
)

const topPatternsReported = 10

func (c *Controller) PerformanceMetrics(ctx context.Context) PerformanceMetrics {
	return PerformanceMetrics{
		Optimizer:        c.optimizer.Stats(),
		AgentPerformance: c.orchestrator.Performance(),
		TopicsFitted:     c.ranker.Fitted(),
		TopicSummary:     c.ranker.Summary(),
		TopPatterns:      c.optimizer.TopPatterns(topPatternsReported),
		ActiveSessions:   c.sessions.count(),
	}
}

// ExportPatterns writes every learned pattern to path. The format follows
// the file extension.
func (c *Controller) ExportPatterns(path string) (int, error) {
	patterns := c.optimizer.Patterns()
	if err := optimizer.ExportFile(path, patterns); err != nil {
		return 0, err
	}
	logger.Info("Patterns exported", zap.String("path", path), zap.Int("count", len(patterns)))
	return len(patterns), nil
}

// ImportPatterns loads patterns from path and persists them.
func (c *Controller) ImportPatterns(ctx context.Context, path string) (int, error) {
	patterns, err := optimizer.ImportFile(path)
	if err != nil {
		return 0, err
	}
	return c.optimizer.Import(ctx, patterns)
}

func (c *Controller) WritePatterns(w io.Writer, format optimizer.Format) (int, error) {
	patterns := c.optimizer.Patterns()
	if err := optimizer.WritePatterns(w, patterns, format); err != nil {
		return 0, err
	}
	return len(patterns), nil
}

func (c *Controller) ReadPatterns(ctx context.Context, r io.Reader, format optimizer.Format) (int, error) {
	patterns, err := optimizer.ReadPatterns(r, format)
	if err != nil {
		return 0, &search.ValidationError{Field: "patterns", Message: err.Error()}
	}
	return c.optimizer.Import(ctx, patterns)
}

// FitTopics refits the topic model and, when a model path is configured,
// saves it. A failed save keeps the fitted model in memory.
func (c *Controller) FitTopics(ctx context.Context, corpus []string) error {
	if err := c.ranker.Fit(ctx, corpus); err != nil {
		return err
	}
	if c.cfg.TopicModelPath != "" {
		if err := c.ranker.Save(c.cfg.TopicModelPath); err != nil {
			logger.Warn("Failed to save topic model", zap.String("path", c.cfg.TopicModelPath), zap.Error(err))
		}
	}
	return nil
}

// FitTopicsFromCorpus fits the topic model on up to limit indexed documents
// (all of them when limit <= 0) and returns how many were used.
func (c *Controller) FitTopicsFromCorpus(ctx context.Context, limit int) (int, error) {
	texts, err := c.store.ListDocumentTexts(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load corpus: %w", err)
	}
	if err := c.FitTopics(ctx, texts); err != nil {
		return 0, err
	}
	return len(texts), nil
}

// LoadTopics restores a previously saved topic model.
func (c *Controller) LoadTopics(path string) error {
	return c.ranker.Load(path)
}

func (c *Controller) TopicSummary() []search.TopicInfo {
	return c.ranker.Summary()
}

// Drain waits until every queued background write has run.
func (c *Controller) Drain() {
	c.queue.Drain()
}
