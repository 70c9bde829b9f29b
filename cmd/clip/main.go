// Command clip runs the extraction pipeline once for a single packing item,
// useful for reprocessing an item without going through the HTTP trigger.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"packclip/config"
	"packclip/database"
	"packclip/storage"
	"packclip/worker"
)

func main() {
	itemID := flag.String("item", "", "Packing item ID to process")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	if *itemID == "" {
		log.Fatal("Provide a packing item ID with -item")
	}

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: .env file not found at %s, using environment variables", *envFile)
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

	processor := worker.NewProcessor(&cfg, db, r2Storage)
	if !processor.ProcessItemByID(context.Background(), *itemID) {
		os.Exit(1)
	}
}
