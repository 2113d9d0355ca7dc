package handlers

import (
	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/fleetmaint/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

type TaskHandler struct {
	engine ports.TaskEngine
	audit  ports.AuditLog
	logger *logger.Logger
}

func NewTaskHandler(engine ports.TaskEngine, audit ports.AuditLog, log *logger.Logger) *TaskHandler {
	return &TaskHandler{engine: engine, audit: audit, logger: log}
}

// CreateTask handles POST /api/v1/tasks
func (h *TaskHandler) CreateTask(c *fiber.Ctx) error {
	var req dto.CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("task_create_body_parse_failed", "error", err)
		return badRequest(c, "invalid request body", nil)
	}
	if details := req.Validate(); len(details) > 0 {
		h.logger.Warnw("task_create_validation_failed", "details", details)
		return badRequest(c, "validation failed", details)
	}

	task, err := h.engine.CreateTask(c.UserContext(), req.Input())
	if err != nil {
		h.logger.Warnw("task_create_failed", "error", err)
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(task)
}

// GetTask handles GET /api/v1/tasks/:id
func (h *TaskHandler) GetTask(c *fiber.Ctx) error {
	id := c.Params("id")
	if !dto.ValidTaskID(id) {
		return badRequest(c, "invalid task id", nil)
	}
	task, err := h.engine.GetTask(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	records, err := h.engine.ListSubAssetRecords(c.UserContext(), id)
	if err != nil {
		h.logger.Errorw("task_records_list_failed", "task_id", id, "error", err)
		return writeError(c, err)
	}
	return c.JSON(dto.TaskResponse{Task: task, SubAssetRecords: records})
}

// StartTask handles POST /api/v1/tasks/:id/start and the kickoff alias used
// by chained tasks.
func (h *TaskHandler) StartTask(c *fiber.Ctx) error {
	id := c.Params("id")
	if !dto.ValidTaskID(id) {
		return badRequest(c, "invalid task id", nil)
	}
	outcomes, err := h.engine.StartTask(c.UserContext(), id)
	if err != nil {
		h.logger.Warnw("task_start_failed", "task_id", id, "error", err)
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(dto.DispatchResponse{TaskID: id, Outcomes: outcomes})
}

// DispatchPending handles POST /api/v1/tasks/:id/dispatch
func (h *TaskHandler) DispatchPending(c *fiber.Ctx) error {
	id := c.Params("id")
	if !dto.ValidTaskID(id) {
		return badRequest(c, "invalid task id", nil)
	}
	outcomes, err := h.engine.DispatchPending(c.UserContext(), id)
	if err != nil {
		h.logger.Warnw("task_dispatch_failed", "task_id", id, "error", err)
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(dto.DispatchResponse{TaskID: id, Outcomes: outcomes})
}

// GetAudit handles GET /api/v1/tasks/:id/audit
func (h *TaskHandler) GetAudit(c *fiber.Ctx) error {
	id := c.Params("id")
	if !dto.ValidTaskID(id) {
		return badRequest(c, "invalid task id", nil)
	}
	if _, err := h.engine.GetTask(c.UserContext(), id); err != nil {
		return writeError(c, err)
	}
	events, err := h.audit.ListByTask(c.UserContext(), id)
	if err != nil {
		h.logger.Errorw("task_audit_list_failed", "task_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "failed to list audit events"})
	}
	return c.JSON(fiber.Map{"task_id": id, "events": events})
}
