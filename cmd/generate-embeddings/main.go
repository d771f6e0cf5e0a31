package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/perbu/policynav/pkg/config"
	"github.com/perbu/policynav/pkg/minirag"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	configPath := flag.String("config", "policynav.yaml", "Path to the configuration file")
	docsDir := flag.String("docs", "", "Override the documents directory")
	outDir := flag.String("out", "", "Override the index output directory")
	noCheckpoint := flag.Bool("no-checkpoint", false, "Do not resume from or write a checkpoint")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("Error loading config: %v\n", err)
	}
	if *docsDir != "" {
		cfg.DocsDir = *docsDir
	}
	if *outDir != "" {
		cfg.IndexDir = *outDir
	}
	if err := cfg.Validate(); err != nil {
		fatalf("Invalid config: %v\n", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fatalf("Error creating logger: %v\n", err)
	}

	fmt.Println("PolicyNav Index Build Tool")
	fmt.Println("==========================")
	fmt.Println()

	// Interrupts cancel the build. Build saves a checkpoint before returning.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("Step 1: Initializing embedder...")
	emb, err := cfg.NewEmbedder()
	if err != nil {
		fatalf("Error initializing embedder: %v\n", err)
	}
	fmt.Printf("  ✓ Embedder initialized (model=%s, dim=%d)\n\n", emb.ModelInfo(), emb.Dimension())

	opts, err := cfg.BuildOptions()
	if err != nil {
		fatalf("Invalid build options: %v\n", err)
	}
	opts.DisableCheckpoint = *noCheckpoint

	var mu sync.Mutex
	last := -1
	opts.Progress = func(completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		if completed == last {
			return
		}
		last = completed
		fmt.Printf("\r  Progress: %d/%d (%.1f%%)", completed, total, float64(completed)/float64(total)*100)
		if completed == total {
			fmt.Println()
		}
	}

	fmt.Printf("Step 2: Chunking %s and generating embeddings...\n", cfg.DocsDir)
	report, err := minirag.Build(ctx, opts, emb, logger)
	if err != nil {
		fmt.Println()
		if ctx.Err() != nil {
			fmt.Println("⚠ Interrupted. Progress saved to checkpoint, run again to resume.")
			os.Exit(1)
		}
		fatalf("Error building index: %v\n", err)
	}
	if report.Resumed > 0 {
		fmt.Printf("  ✓ Resumed %d embeddings from checkpoint\n", report.Resumed)
	}
	fmt.Printf("  ✓ Embedded %d chunks from %d documents\n\n", report.Chunks, report.Documents)

	fmt.Println("Step 3: Index saved")
	fmt.Printf("  ✓ %s (build %s)\n", report.OutputDir, report.BuildID)
	for _, lvl := range report.Stats.Levels {
		fmt.Printf("    level %d: %d nodes, %d edges\n", lvl.Level, lvl.Nodes, lvl.Edges)
	}
	fmt.Printf("    avg degree %.2f, elapsed %s\n\n", report.Stats.AvgDegree(), report.Elapsed.Round(1e6))

	fmt.Println("Done! Run 'minirag-server' or 'minirag' against the index directory.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}
