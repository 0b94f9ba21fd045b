package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gharti/bike-market/internal/api"
	"github.com/gharti/bike-market/internal/cache"
	"github.com/gharti/bike-market/internal/config"
	"github.com/gharti/bike-market/internal/database"
	"github.com/gharti/bike-market/internal/events"
	"github.com/gharti/bike-market/internal/market"
	"github.com/gharti/bike-market/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()
	log.Printf("Connected to database")

	publisher := events.NewNopPublisher()
	if cfg.Events.NatsURL != "" {
		publisher, err = events.NewNATSPublisher(cfg.Events.NatsURL)
		if err != nil {
			log.Fatalf("Connect to NATS: %v", err)
		}
		log.Printf("Connected to NATS")
	}
	defer publisher.Close()

	bicycleCache, err := cache.New(&cfg.Cache)
	if err != nil {
		log.Fatalf("Connect to Redis: %v", err)
	}
	if bicycleCache != nil {
		log.Printf("Bicycle cache enabled")
	}
	defer bicycleCache.Close()

	svc := market.NewService(db, cfg.Market, publisher, bicycleCache, metrics.NewNopRecorder())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.RunSweeper(ctx, cfg.Market.SweepInterval)

	handler := api.NewHandler(db, svc)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.SetupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}

	log.Printf("Server stopped")
}
