package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/fleetmaint/backend/internal/config"
	"github.com/fleetmaint/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

const (
	AdminTokenHeader = "X-Admin-Token"
	AgentTokenHeader = "X-Agent-Token"
)

// AdminAuth guards operator routes: task scheduling, start and read-outs.
func AdminAuth(cfg *config.Config) fiber.Handler {
	return TokenAuth(AdminTokenHeader, cfg.Auth.AdminAPIKey)
}

// AgentAuth guards the device-facing relay routes.
func AgentAuth(cfg *config.Config) fiber.Handler {
	return TokenAuth(AgentTokenHeader, cfg.Auth.AgentToken)
}

// TokenAuth accepts the secret in header or as a bearer token. An empty
// secret leaves the route open.
func TokenAuth(header, secret string) fiber.Handler {
	want := []byte(secret)
	return func(c *fiber.Ctx) error {
		if len(want) == 0 {
			return c.Next()
		}
		if subtle.ConstantTimeCompare([]byte(presentedToken(c, header)), want) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error:    "unauthorized",
				TextCode: "UNAUTHORIZED",
			})
		}
		return c.Next()
	}
}

func presentedToken(c *fiber.Ctx, header string) string {
	if token := c.Get(header); token != "" {
		return token
	}
	token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
