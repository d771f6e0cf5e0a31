package store

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	gojson "github.com/goccy/go-json"
)

const (
	// FormatName tags files written by Save.
	FormatName = "policynav-metadata"

	// FormatVersion is the current metadata file version.
	FormatVersion = 1
)

type fileHeader struct {
	Format  string  `json:"format"`
	Version int     `json:"version"`
	BuildID string  `json:"build_id"`
	Count   int     `json:"count"`
	Chunks  []Chunk `json:"chunks"`
}

// WriteTo writes the table as a versioned JSON document.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	chunks := s.chunks
	if chunks == nil {
		chunks = []Chunk{}
	}

	data, err := gojson.MarshalIndent(fileHeader{
		Format:  FormatName,
		Version: FormatVersion,
		BuildID: s.buildID,
		Count:   len(chunks),
		Chunks:  chunks,
	}, "", "  ")
	if err != nil {
		return 0, err
	}

	n, err := w.Write(data)
	return int64(n), err
}

// Save writes the table to filename. The file is replaced atomically.
func (s *Store) Save(filename string) error {
	return writeFileAtomic(filename, func(w io.Writer) error {
		_, err := s.WriteTo(w)
		return err
	})
}

// Read decodes a table written by WriteTo.
func Read(r io.Reader) (*Store, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var hdr fileHeader
	if err := gojson.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	if hdr.Format != FormatName {
		return nil, fmt.Errorf("%w: unexpected format %q", ErrCorrupt, hdr.Format)
	}
	if hdr.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, hdr.Version)
	}
	if hdr.Count != len(hdr.Chunks) {
		return nil, fmt.Errorf("%w: header count %d, found %d chunks", ErrCorrupt, hdr.Count, len(hdr.Chunks))
	}

	for i, c := range hdr.Chunks {
		if int(c.ID) != i {
			return nil, fmt.Errorf("%w: chunk at position %d has id %d", ErrCorrupt, i, c.ID)
		}
		if c.Start >= c.End {
			return nil, fmt.Errorf("%w: chunk %d has empty span [%d,%d)", ErrCorrupt, i, c.Start, c.End)
		}
	}

	return &Store{chunks: hdr.Chunks, buildID: hdr.BuildID}, nil
}

// Load reads a table saved with Save.
func Load(filename string) (*Store, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Read(bufio.NewReader(f))
}

func writeFileAtomic(filename string, writeFunc func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	buf := bufio.NewWriter(tmp)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, filename)
}
