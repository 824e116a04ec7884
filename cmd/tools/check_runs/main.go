package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/fundscout/fundscout/internal/db"
	"github.com/jedib0t/go-pretty/v6/table"
)

func main() {
	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	runs, err := db.NewStore(pool).ListRecentRuns(ctx, 10)
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Run", "Status", "Funders", "New", "Updated", "Errors", "Duration", "Started At"})

	for _, r := range runs {
		duration := "Running..."
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			r.RunID.String()[:8], r.Status, r.FundersChecked, r.NewRecords,
			r.UpdatedRecords, len(r.Errors), duration, r.StartedAt.Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()
}
