package handlers

import (
	"bytes"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/evaluation"
	"github.com/adaptive-search/backend/internal/search/controller"
	"github.com/adaptive-search/backend/internal/search/optimizer"
	"github.com/adaptive-search/backend/pkg/logger"
)

// AdminHandler serves pattern export/import, topic model fitting and
// evaluation reports.
type AdminHandler struct {
	controller *controller.Controller
	evaluator  *evaluation.Evaluator
}

func NewAdminHandler(c *controller.Controller, evaluator *evaluation.Evaluator) *AdminHandler {
	return &AdminHandler{controller: c, evaluator: evaluator}
}

func (h *AdminHandler) ExportPatterns(c *fiber.Ctx) error {
	format, err := optimizer.ParseFormat(c.Query("format"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	var buf bytes.Buffer
	n, err := h.controller.WritePatterns(&buf, format)
	if err != nil {
		logger.Error("Failed to export patterns", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to export patterns"})
	}

	if format == optimizer.FormatYAML {
		c.Set(fiber.HeaderContentType, "application/yaml")
	} else {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	c.Set("X-Pattern-Count", itoa(n))
	return c.Send(buf.Bytes())
}

func (h *AdminHandler) ImportPatterns(c *fiber.Ctx) error {
	format, err := optimizer.ParseFormat(c.Query("format"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	n, err := h.controller.ReadPatterns(c.UserContext(), bytes.NewReader(c.Body()), format)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"imported": n})
}

func (h *AdminHandler) FitTopics(c *fiber.Ctx) error {
	var req struct {
		Corpus []string `json:"corpus"`
		Limit  int      `json:"limit"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}

	used := len(req.Corpus)
	var err error
	if used > 0 {
		err = h.controller.FitTopics(c.UserContext(), req.Corpus)
	} else {
		used, err = h.controller.FitTopicsFromCorpus(c.UserContext(), req.Limit)
	}
	if err != nil {
		logger.Warn("Topic fit failed", zap.Error(err))
		return c.Status(errorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"documents": used,
		"topics":    h.controller.TopicSummary(),
	})
}

func (h *AdminHandler) Topics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"topics": h.controller.TopicSummary()})
}

func (h *AdminHandler) InteractionReport(c *fiber.Ctx) error {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return badRequest(c, "limit must be an integer")
	}

	report, err := h.evaluator.Interactions(c.UserContext(), limit)
	if err != nil {
		logger.Error("Failed to build interaction report", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to build report"})
	}
	return c.JSON(report)
}

func (h *AdminHandler) DatasetReport(c *fiber.Ctx) error {
	dataset, err := evaluation.LoadDataset(bytes.NewReader(c.Body()))
	if err != nil {
		return badRequest(c, err.Error())
	}

	report, err := h.evaluator.RunDataset(c.UserContext(), dataset)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(report)
}
