package minirag

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/perbu/policynav/pkg/loader"
)

// CheckpointFile is the default name of the resumable build state.
const CheckpointFile = ".build-checkpoint.msgpack"

// checkpoint holds the embeddings computed so far. A nil entry has not been
// computed yet.
type checkpoint struct {
	ModelInfo   string      `msgpack:"model_info"`
	Fingerprint string      `msgpack:"fingerprint"`
	Dimension   int         `msgpack:"dimension"`
	Embeddings  [][]float32 `msgpack:"embeddings"`
}

func newCheckpoint(model, fp string, dim, n int) *checkpoint {
	return &checkpoint{
		ModelInfo:   model,
		Fingerprint: fp,
		Dimension:   dim,
		Embeddings:  make([][]float32, n),
	}
}

// matches reports whether cp was produced for the same chunks and model.
func (cp *checkpoint) matches(model, fp string, dim, n int) bool {
	return cp.ModelInfo == model && cp.Fingerprint == fp && cp.Dimension == dim && len(cp.Embeddings) == n
}

func (cp *checkpoint) completed() int {
	n := 0
	for _, e := range cp.Embeddings {
		if e != nil {
			n++
		}
	}
	return n
}

// loadCheckpoint returns nil, nil when no checkpoint exists.
func loadCheckpoint(path string) (*checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var cp checkpoint
	if err := msgpack.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (cp *checkpoint) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := stageFile(filepath.Dir(path), filepath.Base(path), func(w io.Writer) error {
		return msgpack.NewEncoder(w).Encode(cp)
	})
	if err != nil {
		return err
	}

	// Atomic rename
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// fingerprint identifies a chunk sequence: any change to a source name,
// span or text produces a different value.
func fingerprint(chunks []loader.SourceSpan) string {
	h := sha256.New()
	var buf [8]byte
	for _, c := range chunks {
		_, _ = io.WriteString(h, c.Source)
		_, _ = h.Write([]byte{0})
		binary.LittleEndian.PutUint32(buf[:4], uint32(c.Start))
		binary.LittleEndian.PutUint32(buf[4:], uint32(c.End))
		_, _ = h.Write(buf[:])
		_, _ = io.WriteString(h, c.Text)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
