package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meikuraledutech/fluxflow"
	"github.com/meikuraledutech/fluxflow/memory"
	"github.com/meikuraledutech/fluxflow/postgres"
)

func main() {
	ctx := context.Background()

	// Presets go to postgres when DATABASE_URL is set, otherwise memory.
	var store fluxflow.PresetStore = memory.NewPresetStore()
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			log.Fatalf("connect: %v", err)
		}
		defer pool.Close()
		store = postgres.New(pool)
	}

	if err := store.CreateSchema(ctx); err != nil {
		log.Fatalf("schema: %v", err)
	}

	// ── Build a graph ─────────────────────────────────────────────────
	g := fluxflow.NewDefaultGraph("telemetry")

	hostID, err := g.AddNode(fluxflow.Filter{Key: "host", Value: "edge-01"})
	if err != nil {
		log.Fatalf("add filter: %v", err)
	}
	meanID, err := g.AddNode(fluxflow.Aggregation{Function: "mean", Window: "1m"})
	if err != nil {
		log.Fatalf("add aggregation: %v", err)
	}
	vizID, err := g.AddNode(fluxflow.Visualisation{OutputName: "cpu"})
	if err != nil {
		log.Fatalf("add visualisation: %v", err)
	}

	for _, e := range [][2]string{
		{fluxflow.AnchorSourceID, hostID},
		{hostID, meanID},
		{meanID, vizID},
	} {
		if _, err := g.AddEdge(e[0], e[1]); err != nil {
			log.Fatalf("add edge: %v", err)
		}
	}

	// Rejected: an aggregation must follow a filter.
	if err := g.ValidateEdge(fluxflow.AnchorSourceID, meanID); err != nil {
		fmt.Printf("rejected edge: %v\n", err)
	}

	// ── Compile ───────────────────────────────────────────────────────
	fmt.Println("\ncompiled scripts:")
	for _, out := range g.Compile() {
		fmt.Printf("-- %s\n%s\n", out.OutputID, out.Script)
	}

	// ── Presets ───────────────────────────────────────────────────────
	p := g.Snapshot("cpu-by-host", "CPU by host")
	if err := store.SavePreset(ctx, &p); err != nil {
		log.Fatalf("save preset: %v", err)
	}
	fmt.Println("\npreset saved")

	saved, err := store.GetPreset(ctx, "cpu-by-host")
	if err != nil {
		log.Fatalf("get preset: %v", err)
	}

	merged := fluxflow.NewDefaultGraph("telemetry")
	idMap := merged.AddExistingPreset(*saved)
	fmt.Printf("\nmerged preset, id map:\n")
	printJSON(idMap)
	printJSON(merged)

	// ── Cleanup ───────────────────────────────────────────────────────
	if err := store.DeletePreset(ctx, "cpu-by-host"); err != nil {
		log.Fatalf("delete preset: %v", err)
	}
	fmt.Println("\npreset deleted")
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
