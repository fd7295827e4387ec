package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"rune-holders/internal/features/tg_charts"
	"rune-holders/internal/infra/fs"
)

// go run etc/tools/test_chart.go -data data_out
// renders the last published snapshot to etc/charts/holders_chart.png
func main() {
	dataDir := flag.String("data", fs.DefaultDataDir, "directory holding non_zero_holders.json")
	out := flag.String("out", "etc/charts/holders_chart.png", "output PNG path")
	topN := flag.Int("top", tg_charts.DefaultTopN, "number of holders to draw")
	flag.Parse()

	fmt.Println("Generating holders chart...")

	snap, err := fs.NewStore(*dataDir).LoadSnapshot(context.Background())
	if err != nil {
		fmt.Printf("Error loading snapshot: %v\n", err)
		os.Exit(1)
	}

	png, err := tg_charts.RenderTopHolders(snap.Rune+" top holders", snap.Holders, *topN)
	if err != nil {
		fmt.Printf("Error generating chart: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		fmt.Printf("Error creating output dir: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, png, 0o644); err != nil {
		fmt.Printf("Error writing chart: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Chart generated successfully: %s\n", *out)
	fmt.Println("Open the file to see the result!")
}
