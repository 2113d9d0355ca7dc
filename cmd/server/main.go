package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fleetmaint/backend/internal/config"
	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/core/services"
	"github.com/fleetmaint/backend/internal/infrastructure/archive"
	"github.com/fleetmaint/backend/internal/infrastructure/db"
	"github.com/fleetmaint/backend/internal/infrastructure/directory"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/fleetmaint/backend/internal/infrastructure/memstore"
	"github.com/fleetmaint/backend/internal/infrastructure/mqtt"
	"github.com/fleetmaint/backend/internal/infrastructure/objectstore"
	"github.com/fleetmaint/backend/internal/infrastructure/remote"
	"github.com/fleetmaint/backend/internal/infrastructure/tracing"
	transporthttp "github.com/fleetmaint/backend/internal/transport/http"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var cli struct {
	Config      string `help:"Path to the configuration file." short:"c" default:"config/config.yaml" type:"path"`
	MigrateOnly bool   `help:"Run database migrations and exit." name:"migrate-only"`
}

// closers run in reverse registration order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

type stores struct {
	tasks ports.TaskStore
	chain ports.InstallChain
	audit ports.AuditLog
}

func main() {
	kong.Parse(&cli,
		kong.Name("fleetmaint"),
		kong.Description("Fleet maintenance task engine."),
		kong.UsageOnError(),
	)

	configPath := cli.Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = ""
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()
	if configPath == "" {
		log.Warnw("config_file_missing", "path", cli.Config)
	}

	var cleanup closers
	defer cleanup.run()

	shutdownTracing, err := tracing.Init(context.Background(), cfg.Tracing)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	cleanup.add(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warnw("tracing_shutdown_failed", "error", err)
		}
	})

	st, err := openStores(cfg, log, &cleanup)
	if err != nil {
		log.Fatalf("failed to open task store: %v", err)
	}
	if cli.MigrateOnly {
		log.Info("migrations completed, exiting")
		return
	}

	registry, err := directory.NewRegistry(log.Named("directory"))
	if err != nil {
		log.Fatalf("failed to create asset directory: %v", err)
	}

	var (
		transport  ports.CommandTransport
		mqttClient *mqtt.Client
	)
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewClient(cfg.MQTT, log.Named("mqtt"))
		transport = mqttClient
	} else {
		log.Warn("mqtt disabled; commands are logged and responses must be relayed over HTTP")
		transport = mqtt.NewOfflineTransport(cfg.MQTT.CommandPrefix, log.Named("mqtt"))
	}

	engine := services.NewEngine(services.EngineConfig{
		Store:       st.tasks,
		Chain:       st.chain,
		Audit:       st.audit,
		Directory:   registry,
		Sessions:    services.NewSessionManager(cfg.Session.TopicPrefix),
		Transport:   transport,
		Archiver:    newLogArchiver(cfg, log, &cleanup),
		Kicker:      services.NewHTTPKicker(cfg.Server.BaseURL(), cfg.Auth.AdminAPIKey, cfg.Engine.KickTimeout),
		Jitter:      services.NewRandomJitter(cfg.Engine.LogJitter),
		KickTimeout: cfg.Engine.KickTimeout,
		EnableLocks: cfg.Features.EnableLocks,
		Logger:      log.Named("engine"),
	})
	cleanup.add(engine.Wait)

	if mqttClient != nil {
		sub := mqtt.NewSubscriber(cfg.MQTT.ResponseRoot, cfg.Engine.Workers, engine.HandleResponse, registry, log.Named("mqtt"))
		if err := sub.Attach(mqttClient); err != nil {
			log.Fatalf("failed to subscribe: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.MQTT.ConnectTimeout+time.Second)
		err := mqttClient.Connect(ctx)
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to broker: %v", err)
		}
		cleanup.add(mqttClient.Disconnect)
		cleanup.add(sub.Stop)
	}

	app := newApp(cfg, log)
	transporthttp.SetupRoutes(app, transporthttp.RouterConfig{
		Engine:   engine,
		Registry: registry,
		Audit:    st.audit,
		Logger:   log.Named("http"),
		Config:   cfg,
	})

	go func() {
		if err := app.Listen(cfg.Server.Address()); err != nil {
			log.Fatalf("server failed to start: %v", err)
		}
	}()
	log.Infof("server started on %s", cfg.Server.Address())

	gracefulShutdown(app, log)
}

func openStores(cfg *config.Config, log *logger.Logger, cleanup *closers) (stores, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn("using in-memory task store; tasks are lost on restart")
		s, err := memstore.New()
		if err != nil {
			return stores{}, err
		}
		return stores{tasks: s, chain: s, audit: s}, nil
	}

	database, err := db.NewPostgresConnection(cfg.Database)
	if err != nil {
		return stores{}, err
	}
	cleanup.add(func() {
		if err := db.Close(database); err != nil {
			log.Errorf("failed to close database connection: %v", err)
		}
	})
	log.Info("database connection established")

	if err := db.RunMigrations(database); err != nil {
		return stores{}, err
	}
	log.Info("database migrations completed")

	repo := db.NewTaskRepository(database, log.Named("db"))
	return stores{tasks: repo, chain: repo, audit: db.NewAuditRepository(database, log.Named("db"))}, nil
}

func newLogArchiver(cfg *config.Config, log *logger.Logger, cleanup *closers) *services.LogArchiver {
	var transfer ports.FileTransfer
	if cfg.SFTP.Enabled {
		key := ""
		if cfg.SFTP.PrivateKeyPath != "" {
			k, err := remote.LoadPrivateKey(cfg.SFTP.PrivateKeyPath)
			if err != nil {
				log.Fatalf("failed to load sftp private key: %v", err)
			}
			key = k
		}
		fetcher := remote.NewSFTPFetcher(remote.NewSSHClient(remote.SSHConfig{
			Host:           cfg.SFTP.Host,
			Port:           cfg.SFTP.Port,
			User:           cfg.SFTP.User,
			Password:       cfg.SFTP.Password,
			PrivateKey:     key,
			KnownHostsPath: cfg.SFTP.KnownHostsPath,
			Timeout:        cfg.SFTP.Timeout,
		}), cfg.SFTP.BaseDir, log.Named("sftp"))
		cleanup.add(func() { fetcher.Close() })
		transfer = fetcher
	} else {
		log.Warnw("sftp disabled; log references are read from the local filesystem", "base_dir", cfg.SFTP.BaseDir)
		transfer = remote.NewLocalFetcher(afero.NewOsFs(), cfg.SFTP.BaseDir)
	}

	var storage ports.ObjectStorage
	if cfg.ObjectStorage.Enabled {
		s, err := objectstore.NewMinIOStorage(cfg.ObjectStorage, log.Named("objectstore"))
		if err != nil {
			log.Fatalf("failed to create object storage client: %v", err)
		}
		storage = s
	} else {
		log.Warn("object storage disabled; log archives are kept in memory")
		storage = objectstore.NewMemoryStorage()
	}

	return services.NewLogArchiver(services.LogArchiverConfig{
		FS:               afero.NewOsFs(),
		Root:             cfg.Archive.WorkDir,
		Transfer:         transfer,
		Archiver:         archive.NewZipArchiver(),
		Storage:          storage,
		KeyPrefix:        cfg.ObjectStorage.KeyPrefix,
		FetchConcurrency: cfg.Archive.FetchConcurrency,
		Logger:           log.Named("archive"),
	})
}

func newApp(cfg *config.Config, log *logger.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		ErrorHandler:          globalErrorHandler(log),
		DisableStartupMessage: true,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	allowedOrigins := "http://localhost:3000"
	if len(cfg.Auth.AllowedOrigins) > 0 {
		allowedOrigins = strings.Join(cfg.Auth.AllowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Token, X-Agent-Token",
		AllowMethods: "GET, POST, HEAD, PUT",
	}))

	app.Use(func(c *fiber.Ctx) error {
		hdr := cfg.Features.RequestIDHeader
		var reqID string
		if hdr != "" {
			reqID = c.Get(hdr)
		}
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		if hdr != "" {
			c.Set(hdr, reqID)
		}
		return c.Next()
	})

	if cfg.Features.EnableRequestLogging {
		app.Use(func(c *fiber.Ctx) error {
			start := time.Now()
			err := c.Next()
			routePath := ""
			if c.Route() != nil {
				routePath = c.Route().Path
			}
			log.Infow("http_access",
				"method", c.Method(),
				"path", c.Path(),
				"route", routePath,
				"status", c.Response().StatusCode(),
				"latency_ms", time.Since(start).Milliseconds(),
				"client_ip", c.IP(),
				"request_id", c.Locals("request_id"),
				"req_bytes", len(c.Request().Body()),
				"resp_bytes", len(c.Response().Body()),
			)
			return err
		})
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	return app
}

func globalErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		if code < fiber.StatusInternalServerError {
			log.Warnw("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", c.Locals("request_id"),
			)
		} else {
			log.Errorw("request error",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", c.Locals("request_id"),
			)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

func gracefulShutdown(app *fiber.App, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	}
	log.Info("server exited gracefully")
}
