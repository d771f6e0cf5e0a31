package minirag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/perbu/policynav/pkg/distance"
	"github.com/perbu/policynav/pkg/embedder"
)

const (
	// DefaultK is the number of results returned when k is absent or not positive.
	DefaultK = 3

	// DefaultSnippetChars bounds the snippet text passed on to the model.
	DefaultSnippetChars = 800

	ellipsis = "..."
)

// Retriever turns a query into a ranked list of snippets.
type Retriever struct {
	index        *Index
	emb          embedder.Embedder
	efSearch     int
	snippetChars int
	defaultK     int
	minScore     float32
	logger       *Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithEFSearch sets the candidate list width; 0 uses the index default.
func WithEFSearch(ef int) RetrieverOption {
	return func(r *Retriever) { r.efSearch = ef }
}

// WithSnippetChars sets the snippet display budget in characters.
func WithSnippetChars(n int) RetrieverOption {
	return func(r *Retriever) {
		if n > 0 {
			r.snippetChars = n
		}
	}
}

// WithDefaultK sets the k used when the caller passes k <= 0.
func WithDefaultK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.defaultK = k
		}
	}
}

// WithMinScore drops results scoring below min.
func WithMinScore(min float32) RetrieverOption {
	return func(r *Retriever) { r.minScore = min }
}

// WithRetrieverLogger sets the logger.
func WithRetrieverLogger(l *Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = l }
}

// NewRetriever creates a Retriever. The embedder must produce vectors of the
// index dimension.
func NewRetriever(ix *Index, emb embedder.Embedder, opts ...RetrieverOption) (*Retriever, error) {
	if emb.Dimension() != ix.Dimension() {
		return nil, fmt.Errorf("%w: embedder %s produces %d dimensions, index has %d",
			ErrInvalidArgument, emb.ModelInfo(), emb.Dimension(), ix.Dimension())
	}

	r := &Retriever{
		index:        ix,
		emb:          emb,
		snippetChars: DefaultSnippetChars,
		defaultK:     DefaultK,
		minScore:     float32(math.Inf(-1)),
		logger:       NoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Index returns the index the retriever searches.
func (r *Retriever) Index() *Index { return r.index }

// AnswerContext embeds query, searches the index and joins the hits with
// their metadata. Results keep the index order (score descending). Ids the
// store cannot resolve are skipped.
func (r *Retriever) AnswerContext(ctx context.Context, query string, k int) ([]Snippet, error) {
	if k <= 0 {
		k = r.defaultK
	}

	snippets, skipped, err := r.retrieve(ctx, query, k)
	err = translateError(err)
	r.logger.LogSearch(ctx, k, len(snippets), skipped, err)
	if err != nil {
		return nil, err
	}
	return snippets, nil
}

func (r *Retriever) retrieve(ctx context.Context, query string, k int) ([]Snippet, int, error) {
	if strings.TrimSpace(query) == "" {
		return nil, 0, fmt.Errorf("%w: empty query", ErrInvalidArgument)
	}

	raw, err := r.emb.Embed(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	qvec, ok := distance.NormalizeL2Copy(raw)
	if !ok {
		return nil, 0, fmt.Errorf("%w: query embedded to a zero vector", ErrUpstreamMalformed)
	}

	results, err := r.index.Search(qvec, k, r.efSearch)
	if err != nil {
		return nil, 0, err
	}

	snippets := make([]Snippet, 0, len(results))
	skipped := 0
	for _, res := range results {
		if res.Score < r.minScore {
			continue
		}

		c, err := r.index.Chunk(res.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				skipped++
				continue
			}
			return nil, 0, err
		}

		text, truncated := truncate(c.Text, r.snippetChars)
		snippets = append(snippets, Snippet{
			Source: Source{
				Source:  c.Source,
				ChunkID: c.ID,
				Score:   res.Score,
				Start:   c.Start,
				End:     c.End,
			},
			Text:      text,
			Truncated: truncated,
		})
	}

	return snippets, skipped, nil
}

// truncate cuts s to n characters, appending an ellipsis when it does.
func truncate(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}

	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + ellipsis, true
		}
		i++
	}
	return s, false
}
