package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/glm-met/internal/api/http"
	"github.com/i474232898/glm-met/internal/bootstrap"
	"github.com/i474232898/glm-met/internal/config"
	"github.com/i474232898/glm-met/internal/logger"
	"github.com/i474232898/glm-met/internal/met"
	"github.com/i474232898/glm-met/internal/scheduler"
	"github.com/i474232898/glm-met/internal/store"
)

func main() {
	parser := argparse.NewParser("glm-met-server", "Serves GLM met CSVs and keeps configured lakes up to date")
	configPath := parser.String("c", "config", &argparse.Options{
		Help: "YAML config file"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New("info", "text").WithError(err).Fatal("failed to load config")
	}
	log := logger.New(cfg.App.LogLevel, cfg.App.LogFormat)

	source, err := bootstrap.NewSource(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to create sample source")
	}
	fetchOpts, err := bootstrap.FetchOptions(cfg, 0)
	if err != nil {
		log.WithError(err).Fatal("invalid fetch options")
	}

	// Raw samples are cached per chunk with the configured retention.
	memStore := store.NewMemoryStore(cfg.Store.MaxEntries, cfg.Store.MaxAge)
	service := met.NewService(source, memStore, log)

	lakes, err := scheduler.LoadLakes(cfg.Server.Lakes)
	if err != nil {
		log.WithError(err).Fatal("failed to load lakes")
	}
	sched := scheduler.New(lakes, service, memStore, scheduler.Options{
		Interval:  cfg.Server.RefreshInterval,
		Window:    cfg.Server.RefreshWindow,
		OutputDir: cfg.Server.OutputDir,
		Timeout:   cfg.Server.RequestTimeout,
		FetchOptions: func(offset time.Duration) met.FetchOptions {
			opts := fetchOpts
			opts.Build.Offset = offset
			return opts
		},
	}, log)
	if err := sched.Start(); err != nil {
		log.WithError(err).Fatal("failed to start scheduler")
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "glm-met",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// CDS requests queue for minutes.
		WriteTimeout: cfg.Server.RequestTimeout + 10*time.Second,
		ErrorHandler: httpapi.ErrorHandler,
	})

	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "glm-met",
			"source":  service.SourceName(),
		})
	})

	httpapi.RegisterRoutes(app, service, httpapi.Options{
		Fetch:        fetchOpts,
		MaxRangeDays: cfg.Server.MaxRangeDays,
		Timeout:      cfg.Server.RequestTimeout,
	})

	go func() {
		log.WithField("port", cfg.Server.Port).Info("listening")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.WithError(err).Info("fiber server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Error("error during shutdown")
	}
}
