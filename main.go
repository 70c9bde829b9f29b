package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"packclip/api"
	"packclip/config"
	"packclip/cron"
	"packclip/database"
	"packclip/storage"
	"packclip/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	db, err := database.NewSQLiteDB(cfg.DatabasePath, cfg.CameraEncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	r2Storage, err := storage.NewR2Storage(storage.R2Config{
		AccessKey: cfg.R2AccessKey,
		SecretKey: cfg.R2SecretKey,
		AccountID: cfg.R2AccountID,
		Bucket:    cfg.R2Bucket,
		Endpoint:  cfg.R2Endpoint,
		Region:    cfg.R2Region,
		BaseURL:   cfg.R2BaseURL,
	})
	if err != nil {
		log.Fatalf("Failed to initialize R2 storage: %v", err)
	}

	// Background drivers share one cancellation context so shutdown reaches
	// every loop without process-wide flags.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	processor := worker.NewProcessor(&cfg, db, r2Storage)
	queue := worker.NewJobQueue()

	if cfg.AutoBatchEnabled {
		go processor.RunBatchLoop(ctx)
		log.Println("Auto batch processing enabled")
	} else {
		log.Println("Auto batch processing disabled")
	}
	go queue.RunWorker(ctx, processor)

	janitor := cron.StartScratchJanitor(&cfg)
	defer janitor.Stop()

	server := api.NewServer(cfg, db, queue)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("API server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received, letting in-flight work finish...")

	// The batch loop and queue worker observe cancellation within a second;
	// give the current item a moment to wrap up its status writes.
	time.Sleep(2 * time.Second)
	log.Println("Worker stopped")
}
