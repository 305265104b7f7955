package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/search/controller"
	"github.com/adaptive-search/backend/pkg/logger"
)

type SearchHandler struct {
	controller *controller.Controller
}

func NewSearchHandler(c *controller.Controller) *SearchHandler {
	return &SearchHandler{controller: c}
}

// statusFor maps a response error kind to an HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "":
		return fiber.StatusOK
	case controller.KindValidation:
		return fiber.StatusBadRequest
	case controller.KindCancelled:
		return fiber.StatusRequestTimeout
	case controller.KindDependency:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func errorStatus(err error) int {
	switch {
	case search.IsValidation(err):
		return fiber.StatusBadRequest
	case errors.Is(err, controller.ErrSessionNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, search.ErrCancelled):
		return fiber.StatusRequestTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg, "error_kind": controller.KindValidation})
}

func (h *SearchHandler) Search(c *fiber.Ctx) error {
	var req controller.SearchRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Debug("Failed to parse search body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}
	if req.UserID == "" {
		req.UserID = c.Get("X-User-ID")
	}

	resp := h.controller.Search(c.UserContext(), req)
	return c.Status(statusFor(resp.ErrorKind)).JSON(resp)
}

func (h *SearchHandler) Optimize(c *fiber.Ctx) error {
	var req struct {
		Query string `json:"query"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp := h.controller.OptimizeOnly(c.UserContext(), req.Query)
	return c.Status(statusFor(resp.ErrorKind)).JSON(resp)
}

func (h *SearchHandler) Feedback(c *fiber.Ctx) error {
	var req controller.FeedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.controller.RecordFeedback(c.UserContext(), req); err != nil {
		logger.Warn("Feedback rejected", zap.Error(err))
		return c.Status(errorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "recorded"})
}

func (h *SearchHandler) StartSession(c *fiber.Ctx) error {
	var req struct {
		UserID string `json:"user_id"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	if req.UserID == "" {
		req.UserID = c.Get("X-User-ID")
	}

	id := h.controller.StartSession(req.UserID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session_id": id})
}

func (h *SearchHandler) GetSession(c *fiber.Ctx) error {
	session, ok := h.controller.Session(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}
	return c.JSON(session)
}

func (h *SearchHandler) EndSession(c *fiber.Ctx) error {
	session, err := h.controller.EndSession(c.UserContext(), c.Params("id"))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(session)
}

func (h *SearchHandler) Suggestions(c *fiber.Ctx) error {
	suggestions, err := h.controller.Suggestions(c.UserContext(), c.Query("q"))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	return c.JSON(fiber.Map{"suggestions": suggestions})
}

func (h *SearchHandler) Performance(c *fiber.Ctx) error {
	return c.JSON(h.controller.PerformanceMetrics(c.UserContext()))
}

func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
