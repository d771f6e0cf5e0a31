package loader

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Extensions lists the file suffixes LoadDocuments picks up.
var Extensions = []string{".txt", ".md"}

// Document is a raw source document read from disk.
type Document struct {
	Source string // Path relative to the walked root
	Text   string
}

// SourceSpan is a chunk window tagged with the document it came from.
type SourceSpan struct {
	Source string
	Span
}

// LoadDocuments reads all text documents below root in fsys.
// Documents are returned sorted by Source so that chunk ids are reproducible.
func LoadDocuments(fsys fs.FS, root string) ([]Document, error) {
	var docs []Document

	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !hasExtension(p) {
			return nil
		}

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}

		rel := strings.TrimPrefix(p, path.Clean(root)+"/")
		if root == "." {
			rel = p
		}

		docs = append(docs, Document{Source: rel, Text: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Source < docs[j].Source
	})

	return docs, nil
}

// LoadAndChunkAll loads all documents below root and splits each one into windows
// of size bytes overlapping by overlap bytes. The order of the result is stable.
func LoadAndChunkAll(fsys fs.FS, root string, size, overlap int) ([]SourceSpan, int, error) {
	docs, err := LoadDocuments(fsys, root)
	if err != nil {
		return nil, 0, err
	}

	var all []SourceSpan
	for _, doc := range docs {
		spans, err := Chunk(doc.Text, size, overlap)
		if err != nil {
			return nil, 0, err
		}
		for _, s := range spans {
			all = append(all, SourceSpan{Source: doc.Source, Span: s})
		}
	}

	return all, len(docs), nil
}

func hasExtension(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
