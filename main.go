package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/HSouheill/agrimarket_backend/config"
	"github.com/HSouheill/agrimarket_backend/controllers"
	"github.com/HSouheill/agrimarket_backend/middleware"
	"github.com/HSouheill/agrimarket_backend/repositories"
	"github.com/HSouheill/agrimarket_backend/routes"
	"github.com/HSouheill/agrimarket_backend/services"
	"github.com/HSouheill/agrimarket_backend/websocket"
)

// CustomValidator is a custom validator for Echo
type CustomValidator struct {
	validator *validator.Validate
}

// Validate validates the request body
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := config.ConnectDB(cfg.Mongo, logger)
	if err != nil {
		logger.Fatal("database unavailable", zap.Error(err))
	}
	db := client.Database(cfg.Mongo.Database)

	commissionRepo := repositories.NewCommissionRepository(db)
	partnerRepo := repositories.NewPartnerRepository(db)
	userRepo := repositories.NewUserRepository(db)
	orderRepo := repositories.NewOrderRepository(db)
	notificationRepo := repositories.NewNotificationRepository(db)
	payoutRepo := repositories.NewPayoutRepository(db)
	jobRepo := repositories.NewCommissionJobRepository(db)

	// live sessions: local hub, fanned out across instances when Redis is up
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)
	var pusher services.Pusher = hub
	if rdb := config.ConnectRedis(cfg.Redis, logger); rdb != nil {
		defer rdb.Close()
		relay := websocket.NewRedisRelay(rdb, hub, logger)
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error("push relay stopped", zap.Error(err))
			}
		}()
		pusher = relay
	}

	var alerter services.DriftAlerter
	if mail := services.NewMailAlerter(cfg.SMTP, logger); mail != nil {
		alerter = mail
	}

	totals := services.NewTotalsAggregator(commissionRepo, partnerRepo, alerter, cfg.Jobs.DriftAlertThreshold, logger)
	dispatcher := services.NewDispatcher(services.DispatcherConfig{
		Workers:     cfg.Dispatch.Workers,
		QueueSize:   cfg.Dispatch.QueueSize,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		RetryBase:   cfg.Commission.RetryBase,
	}, pusher, notificationRepo, totals, logger)
	dispatcher.Start()

	resolver := services.NewAttributionResolver(orderRepo, userRepo, partnerRepo, cfg.Commission.DefaultRate, cfg.Commission.PlatformFeeRate, logger)
	writer := services.NewCommissionWriter(commissionRepo, totals, dispatcher, logger)
	transitions := services.NewTransitionManager(commissionRepo, partnerRepo, payoutRepo, totals, dispatcher, logger)
	engine := services.NewCommissionService(services.EngineConfig{
		MaxRetries:     cfg.Commission.MaxRetries,
		RetryBase:      cfg.Commission.RetryBase,
		ItemWorkers:    cfg.Commission.ItemWorkers,
		MaxJobAttempts: cfg.Jobs.MaxJobAttempts,
		StaleJobAfter:  cfg.Jobs.StaleJobAfter,
	}, orderRepo, commissionRepo, jobRepo, resolver, writer, totals, transitions, logger)

	scheduler := services.NewScheduler(services.SchedulerConfig{
		ReconcileInterval: cfg.Jobs.ReconcileInterval,
		ReprocessInterval: cfg.Jobs.ReprocessInterval,
		TotalsSyncGrace:   cfg.Jobs.TotalsSyncGrace,
	}, engine, totals, logger)
	scheduler.Start(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	rateLimiter := middleware.NewRateLimiter()
	go rateLimiter.Cleanup(ctx, 10*time.Minute)

	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))
	e.Use(middleware.GlobalCORS(cfg.CORSOrigins))
	e.Use(middleware.SecurityHeaders())
	e.Use(rateLimiter.RateLimit())

	routes.SetupRoutes(e, routes.Handlers{
		Commission:   controllers.NewCommissionController(engine, partnerRepo, userRepo, logger),
		Notification: controllers.NewNotificationController(notificationRepo, logger),
		Hub:          hub,
		Auth:         middleware.JWTMiddleware(cfg.JWTSecret, logger),
		JWTSecret:    cfg.JWTSecret,
		Health: func() error {
			pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return client.Ping(pctx, nil)
		},
	})

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	scheduler.Wait()
	// announcements already queued are still delivered
	dispatcher.Close()
	if err := client.Disconnect(shutdownCtx); err != nil {
		logger.Error("mongo disconnect", zap.Error(err))
	}
}
