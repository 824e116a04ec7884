package main

import (
	"context"
	"os"

	"github.com/fundscout/fundscout/internal/api"
	"github.com/fundscout/fundscout/internal/db"
	"github.com/fundscout/fundscout/internal/ingest"
	"github.com/fundscout/fundscout/internal/logger"
)

func main() {
	log := logger.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_PRETTY") == "true")
	defer log.Sync()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatal("failed to connect to database", logger.Error(err))
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatal("migration failed", logger.Error(err))
	}

	registry, err := ingest.LoadRegistry("internal/ingest/config/funders.yaml")
	if err != nil {
		log.Fatal("failed to load registry", logger.Error(err))
	}

	store := db.NewStore(pool)
	pipeline := ingest.NewPipeline(store, log, registry)

	srv := api.NewServer(store, pipeline, log)
	log.Info("server starting", logger.String("port", port))
	if err := srv.Start(port); err != nil {
		log.Fatal("server stopped", logger.Error(err))
	}
}
