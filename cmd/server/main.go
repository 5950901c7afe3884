package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"

	"cinebox/internal/catalog"
	"cinebox/internal/config"
	"cinebox/internal/handlers"
	"cinebox/internal/queue"
	"cinebox/internal/storage"
	"cinebox/internal/transport"
	"cinebox/internal/version"
)

func main() {
	// Load .env if present, skip otherwise.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	jobRepo := storage.NewJobRepository(db)
	movieRepo := storage.NewMovieRepository(db)

	tr, err := transport.New(cfg)
	if err != nil {
		log.Fatal(err)
	}

	reconciler := catalog.NewReconciler(movieRepo, "/media")
	manager := queue.NewManager(jobRepo, movieRepo, reconciler, tr,
		cfg.MediaRoot, cfg.MaxConcurrentEncodes)

	jobHandler := handlers.NewJobHandler(jobRepo, movieRepo, manager)
	webhookHandler := handlers.NewWebhookHandler(movieRepo, reconciler, cfg.WebhookSecret)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	})

	api := e.Group("/api")
	api.GET("/jobs", jobHandler.List)
	api.POST("/jobs", jobHandler.Create)
	api.GET("/jobs/stats", jobHandler.Stats)
	api.POST("/jobs/cleanup", jobHandler.Cleanup)
	api.GET("/jobs/:id", jobHandler.Get)
	api.PATCH("/jobs/:id/progress", jobHandler.UpdateProgress)
	api.DELETE("/jobs/:id", jobHandler.Delete)
	api.POST("/jobs/:id/cancel", jobHandler.Cancel)
	api.GET("/queue", jobHandler.QueueStatus)
	api.POST("/queue/cancel", jobHandler.CancelAll)
	api.POST("/webhooks/encode-complete/:id", webhookHandler.EncodeComplete)

	// Periodic re-trigger picks up jobs created while a scan was in
	// flight; the hourly sweep enforces terminal-job retention.
	sched := cron.New()
	if _, err := sched.AddFunc("@every 1m", func() {
		manager.ProcessQueue(context.Background())
	}); err != nil {
		log.Fatal(err)
	}
	if _, err := sched.AddFunc("@hourly", func() {
		removed, err := jobRepo.CleanupTerminal(context.Background(), 24*time.Hour)
		if err != nil {
			log.Printf("job cleanup failed: %v", err)
			return
		}
		if removed > 0 {
			log.Printf("job cleanup removed %d terminal jobs", removed)
		}
	}); err != nil {
		log.Fatal(err)
	}
	sched.Start()
	defer sched.Stop()

	go func() {
		log.Printf("Starting cinebox v%s on port %s (transport: %s)",
			version.Version, cfg.Port, cfg.TransportMode)
		if err := e.Start(fmt.Sprintf(":%s", cfg.Port)); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	// In-flight encodes keep their rows consistent; give them a moment
	// but do not hold shutdown hostage for a feature film.
	waited := make(chan struct{})
	go func() {
		manager.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(15 * time.Second):
		log.Println("leaving in-flight encodes to the worker")
	}
}
