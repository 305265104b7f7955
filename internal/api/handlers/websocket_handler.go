package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/search/controller"
	"github.com/adaptive-search/backend/pkg/logger"
)

// WebSocketHandler streams search results over a websocket. Each "search"
// message produces a status frame, one frame per result and a closing
// "complete" frame with the query processing details.
type WebSocketHandler struct {
	controller *controller.Controller
}

func NewWebSocketHandler(c *controller.Controller) *WebSocketHandler {
	return &WebSocketHandler{controller: c}
}

type wsRequest struct {
	Type      string `json:"type"`
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type wsFrame struct {
	Type            string                      `json:"type"`
	Content         string                      `json:"content,omitempty"`
	Rank            int                         `json:"rank,omitempty"`
	Result          *controller.Result          `json:"result,omitempty"`
	SessionID       string                      `json:"session_id,omitempty"`
	QueryProcessing *controller.QueryProcessing `json:"query_processing,omitempty"`
	Metadata        *controller.Diagnostics     `json:"metadata,omitempty"`
	Suggestions     []string                    `json:"query_suggestions,omitempty"`
	Error           string                      `json:"error,omitempty"`
	ErrorKind       string                      `json:"error_kind,omitempty"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsRequest
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			return
		}

		switch msg.Type {
		case "search", "query":
		default:
			if err := c.WriteJSON(wsFrame{Type: "error", Error: "unknown message type", ErrorKind: controller.KindValidation}); err != nil {
				return
			}
			continue
		}

		if err := h.stream(ctx, c, msg); err != nil {
			logger.Warn("Failed to stream search", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) stream(ctx context.Context, c *websocket.Conn, msg wsRequest) error {
	if err := c.WriteJSON(wsFrame{Type: "status", Content: "searching"}); err != nil {
		return err
	}

	resp := h.controller.Search(ctx, controller.SearchRequest{
		Query:     msg.Query,
		SessionID: msg.SessionID,
		UserID:    msg.UserID,
	})

	for i := range resp.SearchResults {
		if err := c.WriteJSON(wsFrame{Type: "result", Rank: i + 1, Result: &resp.SearchResults[i]}); err != nil {
			return err
		}
	}

	frame := wsFrame{
		Type:            "complete",
		SessionID:       resp.SessionID,
		QueryProcessing: &resp.QueryProcessing,
		Metadata:        &resp.Metadata,
		Suggestions:     resp.QuerySuggestions,
	}
	if resp.Error != "" {
		frame.Type = "error"
		frame.Error, frame.ErrorKind = resp.Error, resp.ErrorKind
	}
	return c.WriteJSON(frame)
}
