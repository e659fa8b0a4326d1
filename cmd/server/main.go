package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/sawtell/cutshop/internal/config"
	"github.com/sawtell/cutshop/internal/handler"
	"github.com/sawtell/cutshop/internal/notify"
	"github.com/sawtell/cutshop/internal/repository"
	"github.com/sawtell/cutshop/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("database connected")

	jobRepo := repository.NewJobRepository(db)
	timeLogRepo := repository.NewTimeLogRepository(db)
	materialRepo := repository.NewMaterialRepository(db)
	recutRepo := repository.NewRecutRepository(db)
	supplyRepo := repository.NewSupplyRepository(db)

	var pub service.Publisher = notify.LogPublisher{}
	if cfg.WebhookURL != "" {
		wp, err := notify.NewWebhookPublisher(cfg.WebhookURL)
		if err != nil {
			return fmt.Errorf("create webhook publisher: %w", err)
		}
		pub = wp
		slog.Info("delivering change events", "target", cfg.WebhookURL)
	}

	jobSvc := service.NewJobService(jobRepo, timeLogRepo, materialRepo, pub)
	sheetSvc := service.NewSheetService(materialRepo, recutRepo, jobSvc, pub)
	inventorySvc := service.NewInventoryService(supplyRepo)
	reaper := service.NewReaper(jobSvc, jobRepo, cfg.ReaperInterval, cfg.InactivityThreshold)

	jobHandler := handler.NewJobHandler(jobSvc)
	sheetHandler := handler.NewSheetHandler(sheetSvc)
	supplyHandler := handler.NewSupplyHandler(inventorySvc)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewAppValidator()
	e.HTTPErrorHandler = handler.HTTPErrorHandler

	e.Use(middleware.RequestID())
	e.Use(handler.RequestLogger())
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api/v1")

	api.POST("/jobs", jobHandler.Create)
	api.GET("/jobs", jobHandler.List)
	api.GET("/jobs/:id", jobHandler.Get)
	api.DELETE("/jobs/:id", jobHandler.Delete)
	api.POST("/jobs/:id/start", jobHandler.Start)
	api.POST("/jobs/:id/pause", jobHandler.Pause)
	api.POST("/jobs/:id/resume", jobHandler.Resume)
	api.POST("/jobs/:id/complete", jobHandler.Complete)
	api.POST("/jobs/:id/timer/start", jobHandler.StartTimer)
	api.POST("/jobs/:id/timer/stop", jobHandler.StopTimer)
	api.GET("/jobs/:id/time-logs", jobHandler.TimeLogs)
	api.GET("/jobs/:id/cut-log", jobHandler.CutLog)
	api.POST("/jobs/:id/cutlists", jobHandler.AddCutlist)
	api.DELETE("/cutlists/:id", jobHandler.DeleteCutlist)

	api.POST("/jobs/:id/materials", sheetHandler.AddMaterial)
	api.DELETE("/materials/:id", sheetHandler.DeleteMaterial)
	api.PUT("/materials/:id/sheets/:index", sheetHandler.SetSheetStatus)
	api.POST("/materials/:id/sheets", sheetHandler.AddSheets)
	api.DELETE("/materials/:id/sheets/:index", sheetHandler.DeleteSheet)
	api.POST("/materials/:id/recuts", sheetHandler.AddRecut)
	api.PUT("/recuts/:id/sheets/:index", sheetHandler.SetRecutSheetStatus)
	api.DELETE("/recuts/:id", sheetHandler.DeleteRecut)

	api.POST("/supplies", supplyHandler.CreateSupply)
	api.GET("/supplies", supplyHandler.ListSupplies)
	api.GET("/supplies/reorder-suggestions", supplyHandler.ReorderSuggestions)
	api.GET("/supplies/:id", supplyHandler.GetSupply)
	api.POST("/supplies/:id/receive", supplyHandler.ReceiveStock)
	api.POST("/supplies/:id/consume", supplyHandler.ConsumeStock)
	api.POST("/locations", supplyHandler.CreateLocation)
	api.GET("/locations", supplyHandler.ListLocations)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reaper.Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("server starting", "port", cfg.Port)
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}
