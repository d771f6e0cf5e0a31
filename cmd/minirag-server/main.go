package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/perbu/policynav/pkg/config"
	"github.com/perbu/policynav/pkg/minirag"
	"github.com/perbu/policynav/pkg/server"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	configPath := flag.String("config", "policynav.yaml", "path to the configuration file")
	addr := flag.String("addr", "", "listen address (overrides server.addr)")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ix, err := minirag.LoadIndex(cfg.IndexDir)
	logger.LogLoad(ctx, cfg.IndexDir, ix, err)
	if err != nil {
		return err
	}

	emb, err := cfg.NewEmbedder()
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	retriever, err := minirag.NewRetriever(ix, emb, cfg.RetrieverOptions(logger)...)
	if err != nil {
		return err
	}

	gen, err := cfg.NewGenerator()
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	answerer := minirag.NewAnswerer(gen, cfg.AnswererOptions(logger)...)

	svc := minirag.NewService(retriever, answerer)
	return server.New(svc, logger).ListenAndServe(ctx, cfg.Server.Addr)
}
