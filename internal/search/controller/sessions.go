package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/metrics"
	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/search/optimizer"
	"github.com/adaptive-search/backend/internal/storage/models"
	"github.com/adaptive-search/backend/pkg/logger"
)

var ErrSessionNotFound = errors.New("session not found")

type trackedSession struct {
	session         models.QuerySession
	lastResultCount int
}

// sessionTracker holds open sessions in memory. Sessions only grow until
// they are ended.
type sessionTracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	now      func() time.Time
}

func newSessionTracker(now func() time.Time) *sessionTracker {
	return &sessionTracker{sessions: make(map[string]*trackedSession), now: now}
}

// getOrCreate must be called with mu held.
func (t *sessionTracker) getOrCreate(id, userID string) *trackedSession {
	s, ok := t.sessions[id]
	if !ok {
		s = &trackedSession{session: models.QuerySession{
			SessionID:      id,
			UserID:         userID,
			Queries:        []string{},
			ClickedResults: []int{},
			ResultScores:   []float64{},
			StartedAt:      t.now().UTC(),
		}}
		t.sessions[id] = s
		metrics.ActiveSessions.Set(float64(len(t.sessions)))
	}
	if s.session.UserID == "" {
		s.session.UserID = userID
	}
	return s
}

func (t *sessionTracker) start(id, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getOrCreate(id, userID)
}

func (t *sessionTracker) recordQuery(id, userID, query string, scores []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.getOrCreate(id, userID)
	s.session.Queries = append(s.session.Queries, query)
	s.session.ResultScores = append(s.session.ResultScores, scores...)
	s.lastResultCount = len(scores)
}

// recordFeedback appends clicks and recomputes satisfaction as the mean of
// the click rate and the rating scaled to [0,1]. A missing rating counts as 3.
// Feedback for a session that is not open is ignored.
func (t *sessionTracker) recordFeedback(id string, clicks []int, resultCount int, rating *int, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return
	}
	s.session.ClickedResults = append(s.session.ClickedResults, clicks...)
	if len(clicks) == 0 {
		return
	}

	if resultCount <= 0 {
		resultCount = s.lastResultCount
	}
	clickRate := 0.0
	if resultCount > 0 {
		clickRate = min(1.0, float64(len(clicks))/float64(resultCount))
	}
	r := 3
	if rating != nil {
		r = *rating
	}
	satisfaction := (clickRate + float64(r)/5) / 2
	s.session.SatisfactionScore = &satisfaction
	if success {
		s.session.Success = true
	}
}

func (t *sessionTracker) end(id string) (*models.QuerySession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil, false
	}
	delete(t.sessions, id)
	metrics.ActiveSessions.Set(float64(len(t.sessions)))

	ended := t.now().UTC()
	out := s.session
	out.EndedAt = &ended
	return &out, true
}

func (t *sessionTracker) get(id string) (models.QuerySession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return models.QuerySession{}, false
	}
	out := s.session
	out.Queries = append([]string{}, s.session.Queries...)
	out.ClickedResults = append([]int{}, s.session.ClickedResults...)
	out.ResultScores = append([]float64{}, s.session.ResultScores...)
	return out, true
}

func (t *sessionTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// StartSession opens a session and returns its id.
func (c *Controller) StartSession(userID string) string {
	id := uuid.NewString()
	c.sessions.start(id, userID)
	return id
}

// Session returns a copy of an open session.
func (c *Controller) Session(id string) (models.QuerySession, bool) {
	return c.sessions.get(id)
}

// sessionSuccess applies the configured success policy.
func (c *Controller) sessionSuccess(clicks []int, rating *int) bool {
	if len(clicks) == 0 {
		return false
	}
	if !c.cfg.SessionSuccessRequiresRating {
		return true
	}
	return rating != nil && *rating >= c.cfg.SuccessRatingThreshold
}

// RecordFeedback validates a user reaction, updates the session and hands
// learning to the optimizer. Persistence happens in the background.
func (c *Controller) RecordFeedback(ctx context.Context, req FeedbackRequest) error {
	if err := validateQuery(req.Query); err != nil {
		return err
	}
	if err := validateSessionID(req.SessionID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return search.ErrCancelled
	}

	err := c.optimizer.RecordFeedback(optimizer.Feedback{
		SessionID:        req.SessionID,
		Query:            req.Query,
		ResultCount:      req.ResultCount,
		ClickedResults:   req.ClickedResults,
		TimeSpent:        req.TimeSpent,
		Rating:           req.Satisfaction,
		ReformulatedFrom: req.ReformulatedFrom,
	})
	if err != nil {
		return err
	}

	if req.SessionID != "" {
		c.sessions.recordFeedback(req.SessionID, req.ClickedResults, req.ResultCount, req.Satisfaction,
			c.sessionSuccess(req.ClickedResults, req.Satisfaction))
	}

	logger.Debug("Feedback recorded",
		zap.String("session_id", req.SessionID),
		zap.Int("clicks", len(req.ClickedResults)),
	)
	return nil
}

// EndSession removes a session from memory and persists it through the
// background queue.
func (c *Controller) EndSession(ctx context.Context, id string) (*models.QuerySession, error) {
	if err := validateSessionID(id); err != nil {
		return nil, err
	}
	s, ok := c.sessions.end(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if s.SatisfactionScore != nil {
		c.optimizer.RecordSessionSatisfaction(*s.SatisfactionScore)
	}

	snapshot := *s
	if !c.queue.Submit("store_session", func(ctx context.Context) error {
		return c.store.SaveSession(ctx, &snapshot)
	}) {
		logger.Warn("Session record dropped",
			zap.String("session_id", id),
			zap.Error(&search.LearningError{Op: "store_session", Err: errors.New("background queue unavailable")}),
		)
	}

	logger.Info("Session ended",
		zap.String("session_id", id),
		zap.Int("queries", len(s.Queries)),
		zap.Bool("success", s.Success),
	)
	return s, nil
}
