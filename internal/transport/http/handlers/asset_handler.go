package handlers

import (
	"errors"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/fleetmaint/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

type AssetHandler struct {
	registry ports.AssetRegistry
	logger   *logger.Logger
}

func NewAssetHandler(registry ports.AssetRegistry, log *logger.Logger) *AssetHandler {
	return &AssetHandler{registry: registry, logger: log}
}

// ReportStatus handles PUT /api/v1/assets/status
func (h *AssetHandler) ReportStatus(c *fiber.Ctx) error {
	var req dto.AssetStatusRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("asset_status_body_parse_failed", "error", err)
		return badRequest(c, "invalid request body", nil)
	}
	if details := req.Validate(); len(details) > 0 {
		return badRequest(c, "validation failed", details)
	}

	state := req.State()
	if err := h.registry.Upsert(c.UserContext(), state); err != nil {
		if errors.Is(err, ports.ErrInvalidAsset) {
			return badRequest(c, err.Error(), nil)
		}
		h.logger.Errorw("asset_status_upsert_failed", "asset", state.Key.String(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "failed to store asset status"})
	}
	return c.JSON(dto.SuccessResponse{Message: "status recorded"})
}

// GetStatus handles GET /api/v1/assets/:type/:id
func (h *AssetHandler) GetStatus(c *fiber.Ctx) error {
	key := domain.AssetKey{TypeID: c.Params("type"), AssetID: c.Params("id")}
	state, err := h.registry.GetAssetStatus(c.UserContext(), key)
	if err != nil {
		if errors.Is(err, ports.ErrAssetUnknown) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "asset not found"})
		}
		h.logger.Errorw("asset_status_lookup_failed", "asset", key.String(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "failed to read asset status"})
	}
	return c.JSON(state)
}
