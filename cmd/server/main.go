package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"

	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/internal/api/handlers"
	"github.com/maheshrc27/postscheduler/internal/api/middleware"
	"github.com/maheshrc27/postscheduler/internal/events"
	job "github.com/maheshrc27/postscheduler/internal/jobs"
	"github.com/maheshrc27/postscheduler/internal/platform"
	"github.com/maheshrc27/postscheduler/internal/queue"
	"github.com/maheshrc27/postscheduler/internal/repository"
	"github.com/maheshrc27/postscheduler/internal/service"
	"github.com/maheshrc27/postscheduler/internal/telemetry"
	"github.com/maheshrc27/postscheduler/migrations"
	"github.com/maheshrc27/postscheduler/pkg/clock"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlx.Connect("postgres", cfg.PostgresURI)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer closeDB(db, log)

	if err := repository.RunMigrations(ctx, db, migrations.Files); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
	defer rdb.Close()

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	asynqClient := asynq.NewClient(redisConn)
	defer asynqClient.Close()

	var broker events.Publisher = events.Noop{Logger: log}
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := events.NewRabbitMQ(cfg.RabbitMQ, log)
		if err != nil {
			return err
		}
		broker = rabbit
	} else {
		log.Warn("RABBITMQ_URL is empty, lifecycle events are not published")
	}
	publisher := events.NewAsync(broker, events.DefaultAsyncBuffer, log)
	defer publisher.Close()

	clk := clock.New()

	postRepo := repository.NewScheduledPostRepository(db)
	historyRepo := repository.NewPublishHistoryRepository(db)
	contentRepo := repository.NewContentRepository(db)
	txManager := repository.NewTransactionManager(db)

	registry := newRegistry(cfg.Platforms, log)
	escalator := queue.NewEscalator(asynqClient, log)

	schedulingService := service.NewSchedulingService(postRepo, historyRepo, contentRepo, txManager, publisher, clk,
		service.SchedulingOptions{
			MissedGrace: cfg.Dispatch.MissedGrace,
			RetryBudget: cfg.Dispatch.RetryBudget,
		}, log)
	publishService := service.NewPublishService(postRepo, historyRepo, contentRepo, registry, publisher, escalator, clk,
		service.PublishOptions{
			RetryBudget: cfg.Dispatch.RetryBudget,
			Timeout:     cfg.Dispatch.PublishTimeout,
			StaleAfter:  cfg.Dispatch.StaleClaimAfter,
			BackoffBase: cfg.Dispatch.RetryBackoffBase,
			BackoffMax:  cfg.Dispatch.RetryBackoffMax,
		}, log)

	// cron jobs
	dispatcher := job.NewDueWorkDispatcher(schedulingService, publishService, job.DispatcherConfig{
		Lookahead:   cfg.Dispatch.Lookahead,
		Concurrency: cfg.Dispatch.Concurrency,
	}, clk, log)
	heartbeat := job.NewHeartbeatJob(rdb, dispatcher, cfg.Dispatch.HeartbeatInterval, clk, log)
	tokenRefresh := job.NewTokenRefreshJob(registry.Refreshers(), log)

	c := cron.New()
	if err := c.AddFunc(every(cfg.Dispatch.Interval), dispatcher.Job(ctx)); err != nil {
		return fmt.Errorf("schedule dispatcher: %w", err)
	}
	if err := c.AddFunc(every(cfg.Dispatch.HeartbeatInterval), heartbeat.Job(ctx)); err != nil {
		return fmt.Errorf("schedule heartbeat: %w", err)
	}
	if cfg.Dispatch.TokenRefreshInterval > 0 {
		if err := c.AddFunc(every(cfg.Dispatch.TokenRefreshInterval), tokenRefresh.Job(ctx)); err != nil {
			return fmt.Errorf("schedule token refresh: %w", err)
		}
	}
	c.Start()
	defer c.Stop()

	// escalation worker
	worker := asynq.NewServer(redisConn, asynq.Config{Concurrency: 2})
	mux := asynq.NewServeMux()
	queue.NewWorker(queue.LogAlerter{Logger: log}, log).Register(mux)
	if err := worker.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	defer worker.Shutdown()

	app := newApp(cfg, log)

	api := app.Group("/api")
	handlers.NewHealthHandler(db, func(ctx context.Context) (*job.Heartbeat, error) {
		return job.ReadHeartbeat(ctx, rdb)
	}, registry.Platforms(), clk).Register(api.Group("/health"))

	authMiddleware := middleware.NewAuthMiddleware(*cfg, log)
	secured := api.Group("", authMiddleware.AuthMiddleware())

	handlers.NewScheduledPostHandler(schedulingService, publishService, clk).Register(secured.Group("/scheduled-posts"))

	if cfg.R2.AccountID != "" {
		r2Service, err := service.NewR2Service(ctx, cfg.R2)
		if err != nil {
			return err
		}
		secured.Post("/media", handlers.NewMediaHandler(service.NewMediaService(r2Service)).Upload)
	} else {
		log.Warn("R2 is not configured, media uploads are disabled")
	}

	app.Get("/metrics", adaptor.HTTPHandler(telemetry.Handler()))

	errCh := make(chan error, 1)
	go func() {
		log.Info("server is running", "addr", cfg.HTTPAddr)
		errCh <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Error("failed to shut down server", "error", err)
	}

	// cron v1 Stop does not wait for running jobs.
	c.Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Wait(drainCtx); err != nil {
		log.Error("dispatch cycle still running at shutdown", "error", err)
	} else {
		log.Info("dispatcher drained")
	}
	return nil
}

const shutdownTimeout = 30 * time.Second

func newApp(cfg *config.Config, log *slog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code >= fiber.StatusInternalServerError {
				log.Error("unhandled request error", "path", c.Path(), "error", err)
			}
			return c.Status(code).JSON(fiber.Map{"error": fiber.Map{"kind": "HTTP", "message": err.Error()}})
		},
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))
	return app
}

func newRegistry(p config.Platforms, log *slog.Logger) *platform.Registry {
	return platform.NewRegistry(
		platform.NewFacebookPublisher(platform.FacebookConfig{
			BaseURL:       p.FacebookBaseURL,
			AccessToken:   p.FacebookAccessToken,
			RatePerMinute: p.RatePerMinute,
			Logger:        log,
		}),
		platform.NewInstagramPublisher(platform.InstagramConfig{
			BaseURL:       p.InstagramBaseURL,
			AccessToken:   p.InstagramAccessToken,
			RatePerMinute: p.RatePerMinute,
			Logger:        log,
		}),
		platform.NewYouTubePublisher(platform.YouTubeConfig{
			ClientID:      p.GoogleClientID,
			ClientSecret:  p.GoogleClientSecret,
			RefreshToken:  p.YouTubeRefreshToken,
			RatePerMinute: p.RatePerMinute,
			Logger:        log,
		}),
	)
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func closeDB(db *sqlx.DB, log *slog.Logger) {
	if err := db.Close(); err != nil {
		log.Error("failed to close database", "error", err)
		return
	}
	log.Info("database connection closed")
}
