package minirag

// Source is a citation returned with an answer
type Source struct {
	Source  string  `json:"source"`   // Document path relative to the docs root
	ChunkID uint32  `json:"chunk_id"` // Id in the metadata store
	Score   float32 `json:"score"`    // Cosine similarity to the query
	Start   uint32  `json:"start"`    // Byte offset of the chunk in the document
	End     uint32  `json:"end"`
}

// Snippet is a retrieved chunk with its display text, ready for a prompt
type Snippet struct {
	Source
	Text      string `json:"snippet"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Answer is the result of the Query API
type Answer struct {
	Answer string `json:"answer"`

	// NoAnswer is set when the model responded but no answer could be
	// extracted; Answer then holds a fixed explanatory message.
	NoAnswer bool `json:"no_answer"`

	Sources []Source `json:"sources"`
}

// Health describes a loaded index
type Health struct {
	Status    string `json:"status"`
	Chunks    int    `json:"chunks"`
	Dimension int    `json:"dimension"`
	BuildID   string `json:"build_id"`
}

func sourcesOf(snippets []Snippet) []Source {
	out := make([]Source, len(snippets))
	for i, s := range snippets {
		out[i] = s.Source
	}
	return out
}
