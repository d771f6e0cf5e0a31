package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/perbu/policynav/pkg/config"
	"github.com/perbu/policynav/pkg/minirag"
)

const previewChars = 250

func main() {
	// Load .env file if it exists (for API keys)
	_ = godotenv.Load()

	configPath := flag.String("config", "policynav.yaml", "path to the configuration file")
	top := flag.Int("k", 0, "number of results to return (0 uses the configured default)")
	threshold := flag.Float64("threshold", -1, "minimum similarity score")
	full := flag.Bool("full", false, "show full chunk text instead of a preview")
	answer := flag.Bool("answer", false, "ask the generative model for a cited answer")
	verbose := flag.Bool("verbose", false, "enable verbose output for debugging")
	contextSize := flag.Int("context", 0, "number of surrounding chunks to show for context")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: minirag [options] <query>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}
	query := strings.Join(args, " ")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("Error loading config: %v\n", err)
	}
	if err := cfg.Validate(); err != nil {
		fatalf("Invalid config: %v\n", err)
	}

	logger := minirag.NoopLogger()
	if *verbose {
		cfg.Log.Level = "debug"
		if logger, err = cfg.NewLogger(); err != nil {
			fatalf("Error creating logger: %v\n", err)
		}
	}

	if *verbose {
		fmt.Printf("[DEBUG] Loading index from %s...\n", cfg.IndexDir)
	}
	ix, err := minirag.LoadIndex(cfg.IndexDir)
	if err != nil {
		fatalf("Error loading index: %v\n", err)
	}
	if *verbose {
		fmt.Printf("[DEBUG] Loaded %d chunks (dim=%d, build=%s)\n", ix.Len(), ix.Dimension(), ix.BuildID())
	}

	emb, err := cfg.NewEmbedder()
	if err != nil {
		fatalf("Error initializing embedder: %v\n", err)
	}

	opts := cfg.RetrieverOptions(logger)
	if *threshold > -1 {
		opts = append(opts, minirag.WithMinScore(float32(*threshold)))
	}
	retriever, err := minirag.NewRetriever(ix, emb, opts...)
	if err != nil {
		fatalf("Error creating retriever: %v\n", err)
	}
	svc := minirag.NewService(retriever, nil)

	ctx := context.Background()

	if *verbose {
		fmt.Printf("[DEBUG] Searching with k=%d, threshold=%.2f\n", *top, *threshold)
	}
	snippets, err := svc.Retrieve(ctx, query, *top)
	if err != nil {
		fatalf("Error searching: %v\n", err)
	}
	if *verbose {
		fmt.Printf("[DEBUG] Found %d results\n\n", len(snippets))
	}

	if *answer {
		gen, err := cfg.NewGenerator()
		if err != nil {
			fatalf("Error initializing generator: %v\n", err)
		}
		ans, err := minirag.NewAnswerer(gen, cfg.AnswererOptions(logger)...).Answer(ctx, query, snippets)
		if err != nil {
			fatalf("Error generating answer: %v\n", err)
		}
		fmt.Printf("%s\n\n", ans.Answer)
	}

	if len(snippets) == 0 {
		fmt.Println("No results found")
		return
	}

	fmt.Printf("Found %d results:\n\n", len(snippets))
	for i, s := range snippets {
		fmt.Printf("Score: %.2f | %s [%d:%d]\n", s.Score, s.Source.Source, s.Start, s.End)

		switch {
		case *contextSize > 0:
			fmt.Println()
			around := ix.Surrounding(s.ChunkID, *contextSize)
			for j, c := range around {
				if c.ID == s.ChunkID {
					fmt.Printf(">>> MATCHED CHUNK <<<\n")
				}
				fmt.Printf("%s\n", c.Text)
				if j < len(around)-1 {
					fmt.Println()
				}
			}
		case *full:
			fmt.Println()
			c, err := ix.Chunk(s.ChunkID)
			if err != nil {
				fatalf("Error reading chunk %d: %v\n", s.ChunkID, err)
			}
			fmt.Printf("%s\n", c.Text)
		default:
			fmt.Printf("  %s\n", preview(s.Text, previewChars))
		}

		if (*full || *contextSize > 0) && i < len(snippets)-1 {
			fmt.Println("\n" + strings.Repeat("-", 80) + "\n")
		}
	}
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}
