// Package store holds the chunk metadata table that backs a vector index.
//
// Records are addressed by a dense id equal to their position in the table.
// The table is append-only; once built it is treated as read-only and may be
// read from any number of goroutines.
package store

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNotFound is returned by Get for an id outside the table.
	ErrNotFound = errors.New("chunk not found")

	// ErrInvalidRecord is returned by Append for a record with an empty span.
	ErrInvalidRecord = errors.New("invalid chunk record")

	// ErrCorrupt is returned by Load when the persisted table fails validation.
	ErrCorrupt = errors.New("corrupt metadata")
)

// Chunk is one retrievable span of a source document.
type Chunk struct {
	ID     uint32 `json:"id"`
	Source string `json:"source"`
	Start  uint32 `json:"start"`
	End    uint32 `json:"end"`
	Text   string `json:"text"`
}

// Store is an ordered, append-only table of chunks.
type Store struct {
	chunks  []Chunk
	buildID string
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Append adds a chunk and returns the id assigned to it. The ID field of c is
// ignored; ids are always the next position in the table.
func (s *Store) Append(c Chunk) (uint32, error) {
	if c.Start >= c.End {
		return 0, fmt.Errorf("%w: start %d must be below end %d", ErrInvalidRecord, c.Start, c.End)
	}
	if len(s.chunks) >= math.MaxUint32 {
		return 0, fmt.Errorf("%w: table is full", ErrInvalidRecord)
	}

	c.ID = uint32(len(s.chunks))
	s.chunks = append(s.chunks, c)

	return c.ID, nil
}

// Get returns the chunk with the given id.
func (s *Store) Get(id uint32) (Chunk, error) {
	if int(id) >= len(s.chunks) {
		return Chunk{}, fmt.Errorf("%w: id %d (have %d)", ErrNotFound, id, len(s.chunks))
	}
	return s.chunks[id], nil
}

// Len returns the number of chunks.
func (s *Store) Len() int {
	return len(s.chunks)
}

// BuildID returns the identifier of the build that produced this table.
func (s *Store) BuildID() string {
	return s.buildID
}

// SetBuildID tags the table with the identifier of the build that produced it.
func (s *Store) SetBuildID(id string) {
	s.buildID = id
}
