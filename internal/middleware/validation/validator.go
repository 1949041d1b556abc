package validation

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxBodyBytes        int
	MaxZipCodes         int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects bodies the handlers should never see: unexpected content types, oversized
// payloads, malformed JSON and discovery ZIP lists that are missing or too long. Individual ZIPs
// are filtered by the discovery engine. Provider callbacks arrive form-encoded.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1024 * 1024
	}
	if cfg.MaxZipCodes == 0 {
		cfg.MaxZipCodes = 200
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{
			fiber.MIMEApplicationJSON,
			fiber.MIMEApplicationForm,
			fiber.MIMEMultipartForm,
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := strings.ToLower(c.Get(fiber.HeaderContentType))
		if contentType != "" {
			allowed := false
			for _, allowedType := range cfg.AllowedContentTypes {
				if strings.Contains(contentType, allowedType) {
					allowed = true
					break
				}
			}
			if !allowed {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		body := c.Body()
		if len(body) > cfg.MaxBodyBytes {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "Request body exceeds maximum size",
			})
		}

		if !strings.Contains(contentType, fiber.MIMEApplicationJSON) || len(body) == 0 {
			return c.Next()
		}

		if !json.Valid(body) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if containsXSS(string(body)) {
			cfg.Logger.Warn("Potential XSS attempt",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request content",
			})
		}

		if strings.HasSuffix(c.Path(), "/discovery/search") {
			if msg := checkZipCodes(body, cfg.MaxZipCodes); msg != "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": msg,
				})
			}
		}

		return c.Next()
	}
}

func checkZipCodes(body []byte, max int) string {
	var req struct {
		ZipCodes []string `json:"zipCodes"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return "zipCodes must be an array of strings"
	}
	if len(req.ZipCodes) == 0 {
		return "zipCodes is required"
	}
	if len(req.ZipCodes) > max {
		return "Too many zipCodes"
	}
	return ""
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}
