package main

import (
	"context"
	"flag"
	"os"

	"github.com/fundscout/fundscout/internal/db"
	"github.com/fundscout/fundscout/internal/ingest"
	"github.com/fundscout/fundscout/internal/logger"
)

// runner executes one pipeline stage and exits. This is the on-demand entry
// point for operators and the cron fallback when the API is not deployed.
func main() {
	stage := flag.String("stage", "run", "stage to execute: run, links, featured")
	flag.Parse()

	log := logger.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_PRETTY") == "true")
	defer log.Sync()

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

	pipeline := ingest.NewPipeline(db.NewStore(pool), log, registry)

	switch *stage {
	case "run":
		summary, err := pipeline.RunAll(ctx)
		if err != nil {
			log.Fatal("run failed", logger.Error(err))
		}
		for _, e := range summary.Errors {
			log.Warn("run error", logger.String("error", e))
		}
	case "links":
		checked, quarantined, err := pipeline.ValidateLinks(ctx)
		if err != nil {
			log.Fatal("link sweep failed", logger.Error(err))
		}
		log.Info("link sweep complete",
			logger.Int("checked", checked),
			logger.Int("quarantined", quarantined))
	case "featured":
		selected, err := pipeline.RefreshFeatured(ctx)
		if err != nil {
			log.Fatal("featured selection failed", logger.Error(err))
		}
		log.Info("featured selection complete", logger.Int("selected", selected))
	default:
		log.Fatal("unknown stage", logger.String("stage", *stage))
	}
}
