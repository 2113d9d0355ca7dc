package handlers

import (
	"github.com/fleetmaint/backend/internal/core/services"
	"github.com/fleetmaint/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

func writeError(c *fiber.Ctx, err error) error {
	return c.Status(services.HTTPStatus(err)).JSON(dto.ErrorResponse{
		Error:    err.Error(),
		Code:     services.ErrorCode(err),
		TextCode: services.TextCode(err),
	})
}

func badRequest(c *fiber.Ctx, msg string, details []string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, Details: details})
}
