// Package validation rejects malformed API requests before they reach a
// handler.
package validation

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var markupPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|on(error|load|click)\s*=)`)

type Config struct {
	MaxQueryLength int
	// QueryPaths are the POST endpoints whose JSON body carries a "query".
	QueryPaths          []string
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON, "application/yaml", "text/yaml"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	queryPaths := make(map[string]bool, len(cfg.QueryPaths))
	for _, p := range cfg.QueryPaths {
		queryPaths[p] = true
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		if contentType := c.Get(fiber.HeaderContentType); contentType != "" && !allowed(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		if !queryPaths[c.Path()] {
			return c.Next()
		}

		var body struct {
			Query *string `json:"query"`
		}
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return reject(c, "Invalid JSON format")
		}
		if body.Query == nil {
			return c.Next()
		}

		query := *body.Query
		if !utf8.ValidString(query) || strings.ContainsRune(query, 0) {
			return reject(c, "Query must be valid UTF-8 text")
		}
		if utf8.RuneCountInString(query) > cfg.MaxQueryLength {
			return reject(c, "Query exceeds maximum length")
		}
		if markupPattern.MatchString(query) {
			cfg.Logger.Warn("Rejected query with active markup",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return reject(c, "Invalid query content")
		}
		return c.Next()
	}
}

func allowed(contentType string, types []string) bool {
	contentType = strings.ToLower(contentType)
	for _, t := range types {
		if strings.HasPrefix(contentType, t) {
			return true
		}
	}
	return false
}

func reject(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg, "error_kind": "validation"})
}
