package hnsw

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/perbu/policynav/pkg/distance"
)

const (
	// FileMagic identifies a persisted graph ("PNAV").
	FileMagic uint32 = 0x564E4150

	// FileVersion is the current on-disk format version.
	FileVersion uint32 = 1

	// maxPayloadSize guards against allocating absurd buffers for a corrupt header.
	maxPayloadSize = 1 << 34

	// maxExpansion bounds RawSize relative to StoredSize. LZ4 blocks cannot
	// expand beyond 255:1.
	maxExpansion = 255

	// normTolerance is how far a stored vector's norm may drift from 1.
	normTolerance = 1e-3
)

// fileHeader is the fixed-size prefix of a persisted graph.
type fileHeader struct {
	Magic       uint32
	Version     uint32
	Compression uint8
	Reserved    [3]uint8
	RawSize     uint64 // payload size before compression
	StoredSize  uint64 // payload size on disk
	Checksum    uint32 // CRC32 (IEEE) of the stored payload
}

var headerSize = binary.Size(fileHeader{})

type snapshot struct {
	Dimension      int            `msgpack:"dimension"`
	M              int            `msgpack:"m"`
	EFConstruction int            `msgpack:"ef_construction"`
	EFSearch       int            `msgpack:"ef_search"`
	Heuristic      bool           `msgpack:"heuristic"`
	Label          string         `msgpack:"label"`
	Compression    uint8          `msgpack:"compression"`
	EntryPoint     uint32         `msgpack:"entry_point"`
	MaxLevel       int            `msgpack:"max_level"`
	Count          int            `msgpack:"count"`
	Nodes          []snapshotNode `msgpack:"nodes"`
}

type snapshotNode struct {
	Present bool       `msgpack:"p"`
	Level   int        `msgpack:"l,omitempty"`
	Vector  []float32  `msgpack:"v,omitempty"`
	Friends [][]uint32 `msgpack:"f,omitempty"`
}

// WriteTo serializes the graph. It must not run concurrently with Insert.
func (h *HNSW) WriteTo(w io.Writer) (int64, error) {
	snap := snapshot{
		Dimension:      h.opts.Dimension,
		M:              h.opts.M,
		EFConstruction: h.opts.EFConstruction,
		EFSearch:       h.opts.EFSearch,
		Heuristic:      h.opts.Heuristic,
		Label:          h.opts.Label,
		Compression:    uint8(h.opts.Compression),
		EntryPoint:     h.entryPoint,
		MaxLevel:       h.maxLevel,
		Count:          h.count,
		Nodes:          make([]snapshotNode, len(h.nodes)),
	}
	for i, n := range h.nodes {
		if n == nil {
			continue
		}
		snap.Nodes[i] = snapshotNode{
			Present: true,
			Level:   n.level,
			Vector:  n.vector,
			Friends: n.friends,
		}
	}

	raw, err := msgpack.Marshal(&snap)
	if err != nil {
		return 0, fmt.Errorf("encode graph: %w", err)
	}

	payload, applied, err := compress(h.opts.Compression, raw)
	if err != nil {
		return 0, fmt.Errorf("compress graph: %w", err)
	}

	hdr := fileHeader{
		Magic:       FileMagic,
		Version:     FileVersion,
		Compression: uint8(applied),
		RawSize:     uint64(len(raw)),
		StoredSize:  uint64(len(payload)),
		Checksum:    crc32.ChecksumIEEE(payload),
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return 0, err
	}

	n, err := w.Write(payload)
	return int64(headerSize + n), err
}

// SaveToFile writes the graph to filename, replacing it atomically.
func (h *HNSW) SaveToFile(filename string) error {
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
	if _, err := h.WriteTo(buf); err != nil {
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

// Read decodes a graph written by WriteTo. Any structural problem is
// reported as ErrCorrupt.
func Read(r io.Reader) (*HNSW, error) {
	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, corruptf("truncated header")
		}
		return nil, err
	}

	if hdr.Magic != FileMagic {
		return nil, corruptf("bad magic %#x", hdr.Magic)
	}
	if hdr.Version != FileVersion {
		return nil, corruptf("unsupported version %d", hdr.Version)
	}
	compression := Compression(hdr.Compression)
	if !compression.valid() {
		return nil, corruptf("unknown compression %d", hdr.Compression)
	}
	if hdr.StoredSize > maxPayloadSize || hdr.RawSize > maxPayloadSize {
		return nil, corruptf("payload size out of range")
	}
	switch compression {
	case CompressionNone:
		if hdr.RawSize != hdr.StoredSize {
			return nil, corruptf("raw size %d differs from stored size %d", hdr.RawSize, hdr.StoredSize)
		}
	case CompressionLZ4:
		if hdr.RawSize > hdr.StoredSize*maxExpansion {
			return nil, corruptf("raw size %d out of range for %d stored bytes", hdr.RawSize, hdr.StoredSize)
		}
	}

	// The header is not covered by the checksum, so StoredSize is only
	// trusted as far as the reader actually delivers bytes.
	payload, err := io.ReadAll(io.LimitReader(r, int64(hdr.StoredSize)))
	if err != nil {
		return nil, err
	}
	if uint64(len(payload)) != hdr.StoredSize {
		return nil, corruptf("truncated payload")
	}
	if crc32.ChecksumIEEE(payload) != hdr.Checksum {
		return nil, corruptf("checksum mismatch")
	}

	raw, err := decompress(compression, payload, int(hdr.RawSize))
	if err != nil {
		return nil, corruptf("decompress: %v", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		return nil, corruptf("decode: %v", err)
	}

	if err := snap.validate(); err != nil {
		return nil, err
	}

	opts := Options{
		Dimension:      snap.Dimension,
		M:              snap.M,
		EFConstruction: snap.EFConstruction,
		EFSearch:       snap.EFSearch,
		Heuristic:      snap.Heuristic,
		Compression:    Compression(snap.Compression),
		Label:          snap.Label,
	}
	h := newGraph(opts, rand.New(rand.NewSource(time.Now().UnixNano())))
	h.entryPoint = snap.EntryPoint
	h.maxLevel = snap.MaxLevel
	h.count = snap.Count
	h.nodes = make([]*node, len(snap.Nodes))
	for i, sn := range snap.Nodes {
		if !sn.Present {
			continue
		}
		h.nodes[i] = &node{level: sn.Level, vector: sn.Vector, friends: sn.Friends}
	}

	return h, nil
}

// LoadFromFile reads a graph saved with SaveToFile.
func LoadFromFile(filename string) (*HNSW, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Read(bufio.NewReader(f))
}

// validate checks every structural invariant the search code relies on.
func (s *snapshot) validate() error {
	if s.Dimension <= 0 {
		return corruptf("dimension %d", s.Dimension)
	}
	if s.M < minimumM {
		return corruptf("M %d", s.M)
	}
	if s.EFConstruction <= 0 || s.EFSearch <= 0 {
		return corruptf("ef values must be positive")
	}
	if !Compression(s.Compression).valid() {
		return corruptf("unknown compression %d", s.Compression)
	}
	if s.MaxLevel < 0 || s.MaxLevel > maxLevelCap {
		return corruptf("max level %d", s.MaxLevel)
	}

	present := 0
	for id, n := range s.Nodes {
		if !n.Present {
			continue
		}
		present++

		if n.Level < 0 || n.Level > s.MaxLevel {
			return corruptf("node %d: level %d outside [0,%d]", id, n.Level, s.MaxLevel)
		}
		if len(n.Vector) != s.Dimension {
			return corruptf("node %d: vector length %d, want %d", id, len(n.Vector), s.Dimension)
		}
		if !distance.IsNormalized(n.Vector, normTolerance) {
			return corruptf("node %d: vector is not unit length", id)
		}
		if len(n.Friends) != n.Level+1 {
			return corruptf("node %d: %d adjacency lists for level %d", id, len(n.Friends), n.Level)
		}

		for l, friends := range n.Friends {
			limit := s.M
			if l == 0 {
				limit = 2 * s.M
			}
			if len(friends) > limit {
				return corruptf("node %d: %d links on layer %d exceeds %d", id, len(friends), l, limit)
			}
			for _, f := range friends {
				if int(f) == id {
					return corruptf("node %d: self link on layer %d", id, l)
				}
				if int(f) >= len(s.Nodes) || !s.Nodes[f].Present {
					return corruptf("node %d: link to missing node %d", id, f)
				}
				if s.Nodes[f].Level < l {
					return corruptf("node %d: link to node %d above its level", id, f)
				}
			}
		}
	}

	if present != s.Count {
		return corruptf("count %d, found %d nodes", s.Count, present)
	}
	if present == 0 {
		return nil
	}

	if int(s.EntryPoint) >= len(s.Nodes) || !s.Nodes[s.EntryPoint].Present {
		return corruptf("entry point %d missing", s.EntryPoint)
	}
	if s.Nodes[s.EntryPoint].Level != s.MaxLevel {
		return corruptf("entry point level %d, max level %d", s.Nodes[s.EntryPoint].Level, s.MaxLevel)
	}

	return nil
}
