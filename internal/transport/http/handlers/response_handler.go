package handlers

import (
	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/fleetmaint/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

// ResponseHandler accepts device responses relayed over HTTP by gateways
// that cannot reach the broker.
type ResponseHandler struct {
	engine ports.TaskEngine
	logger *logger.Logger
}

func NewResponseHandler(engine ports.TaskEngine, log *logger.Logger) *ResponseHandler {
	return &ResponseHandler{engine: engine, logger: log}
}

// Submit handles POST /api/v1/responses. Processing outcome is not reported
// back; unmatched responses are logged and dropped.
func (h *ResponseHandler) Submit(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return badRequest(c, "empty body", nil)
	}
	payload := make([]byte, len(body))
	copy(payload, body)

	h.engine.HandleResponse(c.UserContext(), domain.InboundMessage{Payload: payload})
	return c.Status(fiber.StatusAccepted).JSON(dto.SuccessResponse{Message: "accepted"})
}
