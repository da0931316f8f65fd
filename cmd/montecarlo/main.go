package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"balloon/internal/config"
	"balloon/internal/game"
)

func main() {
	rounds := flag.Int("rounds", 100_000, "rounds to simulate")
	seed := flag.Uint64("seed", 42, "random seed")
	tick := flag.Duration("tick", 0, "tick length (default: the table's reference tick)")
	tablesFile := flag.String("tables", "", "tables YAML file (default: built-in tables)")
	tableID := flag.String("table", "solo", "table to simulate")
	targets := flag.String("targets", "1.1,1.5,2,3,5", "comma separated multipliers to report survival for")
	asJSON := flag.Bool("json", false, "print the result as JSON")
	flag.Parse()

	table, err := loadTable(*tablesFile, *tableID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	points, err := parseTargets(*targets)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	start := time.Now()
	result, err := game.Simulate(game.SimParams{
		Config:  table.Round,
		Rounds:  *rounds,
		Tick:    *tick,
		Seed:    *seed,
		Targets: points,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(result)
		return
	}
	printReport(table, result, time.Since(start))
}

func loadTable(path, id string) (game.TableConfig, error) {
	tables := config.DefaultTables()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return game.TableConfig{}, err
		}
		if tables, err = config.ParseTables(data); err != nil {
			return game.TableConfig{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	for _, t := range tables {
		if t.ID == id {
			return t, nil
		}
	}
	return game.TableConfig{}, fmt.Errorf("table %q not found", id)
}

func parseTargets(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("invalid target %q", part)
		}
		out = append(out, v)
	}
	return out, nil
}

func printReport(table game.TableConfig, r game.SimResult, elapsed time.Duration) {
	fmt.Println()
	fmt.Println("─── MONTE CARLO ───────────────────────────────────────────────")
	fmt.Printf("  Table: %s  |  Participants: %d  |  Growth: %s  |  Risk: %s\n",
		table.ID, table.Round.ParticipantCount, table.Round.GrowthLaw, table.Round.RiskLaw)
	fmt.Printf("  Rounds: %d  |  Samples: %d  |  Elapsed: %v\n", r.Rounds, r.Samples, elapsed.Round(time.Millisecond))

	fmt.Println()
	fmt.Println("─── CRASH MULTIPLIERS ─────────────────────────────────────────")
	fmt.Printf("  Mean:     %8.3fx\n", r.Crashes.Mean)
	fmt.Printf("  Median:   %8.3fx\n", r.Crashes.P50)
	fmt.Printf("  90th:     %8.3fx\n", r.Crashes.P90)
	fmt.Printf("  99th:     %8.3fx\n", r.Crashes.P99)
	fmt.Printf("  Max:      %8.3fx\n", r.Crashes.Max)
	fmt.Printf("  Avg ticks per round: %.1f\n", r.AvgTicks)

	fmt.Println()
	fmt.Println("─── SURVIVAL ──────────────────────────────────────────────────")
	for _, p := range r.Survival {
		mark := "OK"
		if d := p.Empirical - p.Expected; d > 0.02 || d < -0.02 {
			mark = "!!"
		}
		fmt.Printf("  %s S(%.2fx)  empirical %6.4f  expected %6.4f\n", mark, p.Target, p.Empirical, p.Expected)
	}
	fmt.Println()
}
