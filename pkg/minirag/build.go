package minirag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/perbu/policynav/pkg/embedder"
	"github.com/perbu/policynav/pkg/hnsw"
	"github.com/perbu/policynav/pkg/loader"
	"github.com/perbu/policynav/pkg/store"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 200

	defaultBatchSize   = 64
	defaultConcurrency = 4

	// checkpointEvery is the number of finished batches between checkpoint writes.
	checkpointEvery = 8
)

// BuildOptions configures Build.
type BuildOptions struct {
	// DocsFS is walked for documents. When nil, DocsDir is opened with os.DirFS.
	DocsFS  fs.FS
	DocsDir string

	// OutputDir receives the index pair.
	OutputDir string

	ChunkSize    int
	ChunkOverlap int

	M              int
	EFConstruction int
	EFSearch       int
	Compression    hnsw.Compression
	Seed           int64 // 0 draws levels from the clock

	// BatchSize is the number of chunks per embedding call and Concurrency
	// the number of calls in flight.
	BatchSize   int
	Concurrency int

	// CheckpointPath defaults to OutputDir/CheckpointFile.
	CheckpointPath    string
	DisableCheckpoint bool

	Progress embedder.ProgressFunc
}

// DefaultBuildOptions returns the documented defaults.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		ChunkSize:      DefaultChunkSize,
		ChunkOverlap:   DefaultChunkOverlap,
		M:              hnsw.DefaultM,
		EFConstruction: hnsw.DefaultEFConstruction,
		EFSearch:       hnsw.DefaultEFSearch,
		Compression:    hnsw.CompressionZstd,
		BatchSize:      defaultBatchSize,
		Concurrency:    defaultConcurrency,
	}
}

// BuildReport summarizes a finished build.
type BuildReport struct {
	BuildID   string
	OutputDir string
	Model     string
	Documents int
	Chunks    int
	Dimension int
	Resumed   int // embeddings taken from a checkpoint
	Elapsed   time.Duration
	Stats     hnsw.Stats
}

// Build chunks every document, embeds the chunks, inserts them into a new
// graph and publishes the index pair to OutputDir. Nothing is published
// unless every step succeeds.
func Build(ctx context.Context, opts BuildOptions, emb embedder.Embedder, logger *Logger) (*BuildReport, error) {
	if logger == nil {
		logger = NoopLogger()
	}

	report, err := build(ctx, opts, emb, logger)
	err = translateError(err)
	logger.LogBuild(ctx, report, err)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func build(ctx context.Context, opts BuildOptions, emb embedder.Embedder, logger *Logger) (*BuildReport, error) {
	start := time.Now()

	if opts.OutputDir == "" {
		return nil, fmt.Errorf("%w: output directory not set", ErrInvalidArgument)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.CheckpointPath == "" {
		opts.CheckpointPath = filepath.Join(opts.OutputDir, CheckpointFile)
	}

	fsys := opts.DocsFS
	if fsys == nil {
		if opts.DocsDir == "" {
			return nil, fmt.Errorf("%w: documents directory not set", ErrInvalidArgument)
		}
		fsys = os.DirFS(opts.DocsDir)
	}

	// Step 1: Load and chunk documents
	chunks, ndocs, err := loader.LoadAndChunkAll(fsys, ".", opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no text chunks found in %d documents", ErrInvalidArgument, ndocs)
	}
	logger.InfoContext(ctx, "documents chunked", "documents", ndocs, "chunks", len(chunks))

	// Step 2: Embed, resuming from a checkpoint when it matches
	vectors, resumed, err := embedChunks(ctx, opts, emb, chunks, logger)
	if err != nil {
		return nil, err
	}

	// Step 3: Insert into a fresh graph, ids in chunk order
	buildID := uuid.NewString()
	dim := emb.Dimension()

	graph, err := hnsw.New(func(o *hnsw.Options) {
		o.Dimension = dim
		o.M = opts.M
		o.EFConstruction = opts.EFConstruction
		o.EFSearch = opts.EFSearch
		o.Compression = opts.Compression
		o.Label = buildID
		if opts.Seed != 0 {
			seed := opts.Seed
			o.RandomSeed = &seed
		}
	})
	if err != nil {
		return nil, err
	}

	st := store.New()
	st.SetBuildID(buildID)

	for i, c := range chunks {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		id, err := st.Append(store.Chunk{
			Source: c.Source,
			Start:  uint32(c.Start),
			End:    uint32(c.End),
			Text:   c.Text,
		})
		if err != nil {
			return nil, err
		}
		if err := graph.Insert(id, vectors[i]); err != nil {
			return nil, fmt.Errorf("inserting chunk %d (%s): %w", id, c.Source, err)
		}
	}

	// Step 4: Publish
	ix, err := NewIndex(graph, st)
	if err != nil {
		return nil, err
	}
	if err := ix.Save(opts.OutputDir); err != nil {
		return nil, err
	}

	if !opts.DisableCheckpoint {
		if err := os.Remove(opts.CheckpointPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.WarnContext(ctx, "could not remove checkpoint", "path", opts.CheckpointPath, "error", err)
		}
	}

	return &BuildReport{
		BuildID:   buildID,
		OutputDir: opts.OutputDir,
		Model:     emb.ModelInfo(),
		Documents: ndocs,
		Chunks:    len(chunks),
		Dimension: dim,
		Resumed:   resumed,
		Elapsed:   time.Since(start),
		Stats:     graph.Stats(),
	}, nil
}

// embedChunks returns one vector per chunk. Work is split into batches that
// run concurrently; progress is checkpointed so an interrupted build resumes.
func embedChunks(ctx context.Context, opts BuildOptions, emb embedder.Embedder, chunks []loader.SourceSpan, logger *Logger) ([][]float32, int, error) {
	model, dim := emb.ModelInfo(), emb.Dimension()
	fp := fingerprint(chunks)

	var cp *checkpoint
	if !opts.DisableCheckpoint {
		existing, err := loadCheckpoint(opts.CheckpointPath)
		switch {
		case err != nil:
			logger.WarnContext(ctx, "ignoring unreadable checkpoint", "path", opts.CheckpointPath, "error", err)
		case existing == nil:
		case existing.matches(model, fp, dim, len(chunks)):
			cp = existing
			logger.InfoContext(ctx, "resuming from checkpoint", "completed", cp.completed(), "total", len(chunks))
		default:
			logger.InfoContext(ctx, "checkpoint does not match current documents or model, starting fresh")
		}
	}
	if cp == nil {
		cp = newCheckpoint(model, fp, dim, len(chunks))
	}
	resumed := cp.completed()

	// Build list of pending indices in batches
	var batches [][]int
	var batch []int
	for i := range chunks {
		if cp.Embeddings[i] != nil {
			continue
		}
		batch = append(batch, i)
		if len(batch) == opts.BatchSize {
			batches = append(batches, batch)
			batch = nil
		}
	}
	if len(batch) > 0 {
		batches = append(batches, batch)
	}

	var mu sync.Mutex
	completed := resumed
	finished := 0

	saveCheckpoint := func() {
		if opts.DisableCheckpoint {
			return
		}
		if err := cp.save(opts.CheckpointPath); err != nil {
			logger.WarnContext(ctx, "failed to save checkpoint", "path", opts.CheckpointPath, "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, idx := range batches {
		g.Go(func() error {
			texts := make([]string, len(idx))
			for j, i := range idx {
				texts[j] = chunks[i].Text
			}

			vecs, err := emb.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("embedding chunks %d-%d: %w", idx[0], idx[len(idx)-1], err)
			}
			if len(vecs) != len(idx) {
				return fmt.Errorf("%w: %d vectors for %d chunks", ErrUpstreamMalformed, len(vecs), len(idx))
			}
			for j, v := range vecs {
				if len(v) != dim {
					return fmt.Errorf("%w: chunk %d embedded to %d dimensions, expected %d", ErrUpstreamMalformed, idx[j], len(v), dim)
				}
			}

			mu.Lock()
			defer mu.Unlock()

			for j, i := range idx {
				cp.Embeddings[i] = vecs[j]
			}
			completed += len(idx)
			finished++

			if opts.Progress != nil {
				opts.Progress(completed, len(chunks))
			}
			if finished%checkpointEvery == 0 {
				saveCheckpoint()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		mu.Lock()
		if cp.completed() > resumed {
			saveCheckpoint()
		}
		mu.Unlock()
		return nil, 0, err
	}

	return cp.Embeddings, resumed, nil
}
