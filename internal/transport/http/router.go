package http

import (
	"github.com/fleetmaint/backend/internal/config"
	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/fleetmaint/backend/internal/transport/http/handlers"
	httpmw "github.com/fleetmaint/backend/internal/transport/http/middleware"
	"github.com/gofiber/fiber/v2"
)

type RouterConfig struct {
	Engine   ports.TaskEngine
	Registry ports.AssetRegistry
	Audit    ports.AuditLog
	Logger   *logger.Logger
	Config   *config.Config
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	taskHandler := handlers.NewTaskHandler(cfg.Engine, cfg.Audit, cfg.Logger)
	assetHandler := handlers.NewAssetHandler(cfg.Registry, cfg.Logger)
	responseHandler := handlers.NewResponseHandler(cfg.Engine, cfg.Logger)

	api := app.Group("/api/v1")

	// Task routes
	tasks := api.Group("/tasks", httpmw.AdminAuth(cfg.Config))
	tasks.Post("/", taskHandler.CreateTask)
	tasks.Get("/:id", taskHandler.GetTask)
	tasks.Post("/:id/start", taskHandler.StartTask)
	tasks.Post("/:id/kickoff", taskHandler.StartTask)
	tasks.Post("/:id/dispatch", taskHandler.DispatchPending)
	tasks.Get("/:id/audit", taskHandler.GetAudit)

	// Asset directory routes
	assets := api.Group("/assets")
	assets.Put("/status", httpmw.AgentAuth(cfg.Config), assetHandler.ReportStatus)
	assets.Get("/:type/:id", httpmw.AdminAuth(cfg.Config), assetHandler.GetStatus)

	// Device responses relayed by gateways
	api.Post("/responses", httpmw.AgentAuth(cfg.Config), responseHandler.Submit)
}
