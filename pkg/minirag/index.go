package minirag

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/perbu/policynav/pkg/hnsw"
	"github.com/perbu/policynav/pkg/store"
)

const (
	// GraphFile is the name of the persisted vector index inside an index directory.
	GraphFile = "index.hnsw"

	// MetadataFile is the name of the persisted metadata store.
	MetadataFile = "metadata.json"

	// prevSuffix marks the graph replaced by an in-progress Save.
	prevSuffix = ".prev"
)

// rename is swapped in tests to simulate a failing filesystem.
var rename = os.Rename

// Index is a vector index and its metadata store, built and loaded as a pair.
// It is immutable once constructed and safe for concurrent readers.
type Index struct {
	graph *hnsw.HNSW
	store *store.Store
}

// NewIndex pairs a graph with a store. Both must hold the same number of
// entries and carry the same build id.
func NewIndex(graph *hnsw.HNSW, st *store.Store) (*Index, error) {
	if err := checkPair(graph, st); err != nil {
		return nil, err
	}
	return &Index{graph: graph, store: st}, nil
}

func checkPair(graph *hnsw.HNSW, st *store.Store) error {
	if graph.Len() != st.Len() {
		return fmt.Errorf("%w: index has %d vectors, metadata has %d chunks", ErrCorruptIndex, graph.Len(), st.Len())
	}
	if label := graph.Options().Label; label != st.BuildID() {
		return fmt.Errorf("%w: index build %q does not match metadata build %q", ErrCorruptIndex, label, st.BuildID())
	}
	for id := range st.Len() {
		if !graph.Contains(uint32(id)) {
			return fmt.Errorf("%w: chunk %d has no vector", ErrCorruptIndex, id)
		}
	}
	return nil
}

// LoadIndex reads the pair saved in dir. Any missing, unreadable or
// mismatched artifact fails with ErrCorruptIndex.
func LoadIndex(dir string) (*Index, error) {
	metaPath := filepath.Join(dir, MetadataFile)

	ix, err := loadPair(filepath.Join(dir, GraphFile), metaPath)
	if err == nil {
		return ix, nil
	}

	// An interrupted Save leaves the previous graph next to the previous
	// metadata.
	prevPath := filepath.Join(dir, GraphFile+prevSuffix)
	if _, statErr := os.Stat(prevPath); statErr == nil {
		if prev, prevErr := loadPair(prevPath, metaPath); prevErr == nil {
			return prev, nil
		}
	}
	return nil, err
}

func loadPair(graphPath, metaPath string) (*Index, error) {
	for _, p := range []string{graphPath, metaPath} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s is missing", ErrCorruptIndex, p)
			}
			return nil, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
		}
	}

	graph, err := hnsw.LoadFromFile(graphPath)
	if err != nil {
		return nil, corruptIndex(graphPath, err)
	}

	st, err := store.Load(metaPath)
	if err != nil {
		return nil, corruptIndex(metaPath, err)
	}

	return NewIndex(graph, st)
}

func corruptIndex(path string, err error) error {
	if errors.Is(err, ErrCorruptIndex) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrCorruptIndex, path, err)
}

// Save publishes the pair into dir. Both artifacts are fully written to
// staging files before either is renamed into place. The graph being
// replaced is kept as a .prev file until the metadata rename succeeds, so
// LoadIndex can still pair it with the old metadata after a crash, and a
// failed metadata rename restores it.
func (ix *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	graphTmp, err := stageFile(dir, GraphFile, func(w io.Writer) error {
		_, err := ix.graph.WriteTo(w)
		return err
	})
	if err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	defer os.Remove(graphTmp)

	metaTmp, err := stageFile(dir, MetadataFile, func(w io.Writer) error {
		_, err := ix.store.WriteTo(w)
		return err
	})
	if err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	defer os.Remove(metaTmp)

	graphPath := filepath.Join(dir, GraphFile)
	prevPath := graphPath + prevSuffix

	hadPrev := true
	if err := rename(graphPath, prevPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		hadPrev = false
	}

	if err := rename(graphTmp, graphPath); err != nil {
		if hadPrev {
			_ = rename(prevPath, graphPath)
		}
		return err
	}

	if err := rename(metaTmp, filepath.Join(dir, MetadataFile)); err != nil {
		if hadPrev {
			_ = rename(prevPath, graphPath)
		} else {
			_ = os.Remove(graphPath)
		}
		return err
	}

	if hadPrev {
		_ = os.Remove(prevPath)
	}
	return nil
}

// stageFile writes a synced temporary file next to name and returns its path.
func stageFile(dir, name string, write func(io.Writer) error) (string, error) {
	f, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return "", err
	}

	buf := bufio.NewWriter(f)
	err = write(buf)
	if err == nil {
		err = buf.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Len returns the number of chunks.
func (ix *Index) Len() int { return ix.store.Len() }

// Dimension returns the vector dimension.
func (ix *Index) Dimension() int { return ix.graph.Dimension() }

// BuildID returns the id shared by both artifacts.
func (ix *Index) BuildID() string { return ix.store.BuildID() }

// Graph returns the underlying vector index.
func (ix *Index) Graph() *hnsw.HNSW { return ix.graph }

// Chunk returns the metadata record for id.
func (ix *Index) Chunk(id uint32) (store.Chunk, error) {
	c, err := ix.store.Get(id)
	return c, translateError(err)
}

// Search runs an approximate top-k query against the graph.
func (ix *Index) Search(vec []float32, k, ef int) ([]hnsw.Result, error) {
	res, err := ix.graph.Search(vec, k, ef)
	return res, translateError(err)
}

// Surrounding returns up to n chunks on each side of id that come from the
// same document, in id order, including id itself.
func (ix *Index) Surrounding(id uint32, n int) []store.Chunk {
	target, err := ix.store.Get(id)
	if err != nil {
		return nil
	}

	first := max(int(id)-n, 0)
	last := min(int(id)+n, ix.store.Len()-1)

	var out []store.Chunk
	for i := first; i <= last; i++ {
		c, err := ix.store.Get(uint32(i))
		if err == nil && c.Source == target.Source {
			out = append(out, c)
		}
	}
	return out
}
