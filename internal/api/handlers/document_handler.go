package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/ingestion"
	"github.com/adaptive-search/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
	fetcher   *ingestion.Fetcher
}

// NewDocumentHandler wires document ingestion. fetcher may be nil, in which
// case every request must carry its content.
func NewDocumentHandler(processor *ingestion.Processor, fetcher *ingestion.Fetcher) *DocumentHandler {
	return &DocumentHandler{processor: processor, fetcher: fetcher}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req struct {
		ingestion.Input
		URL string `json:"url"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	in := req.Input
	if in.Source == "" {
		in.Source = req.URL
	}
	if in.Source != "" && !ingestion.ValidURL(in.Source) {
		return badRequest(c, "Invalid URL format")
	}

	if in.Content == "" {
		if in.Source == "" {
			return badRequest(c, "content or url is required")
		}
		if h.fetcher == nil {
			return badRequest(c, "content is required")
		}
		fetched, err := h.fetcher.Fetch(c.UserContext(), in.Source)
		if err != nil {
			logger.Warn("Failed to fetch document", zap.String("url", in.Source), zap.Error(err))
			return c.Status(fetchStatus(err)).JSON(fiber.Map{"error": err.Error()})
		}
		fetched.ID, fetched.Title = in.ID, in.Title
		in = fetched
	}

	result, err := h.processor.ProcessDocument(c.UserContext(), in)
	if err != nil {
		logger.Error("Failed to process document", zap.Error(err))
		return c.Status(fetchStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func fetchStatus(err error) int {
	if s := errorStatus(err); s != fiber.StatusInternalServerError {
		return s
	}
	return fiber.StatusBadGateway
}

func itoa(n int) string { return strconv.Itoa(n) }
