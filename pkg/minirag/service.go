// Package minirag retrieves cited context from a paired vector index and
// metadata store and assembles answers from it.
package minirag

import (
	"context"
	"errors"
)

// Service is the Query API over one loaded index. It holds no mutable state
// and may be shared by any number of concurrent requests.
type Service struct {
	retriever *Retriever
	answerer  *Answerer
}

// NewService creates a Service. answerer may be nil for retrieval-only use.
func NewService(r *Retriever, a *Answerer) *Service {
	return &Service{retriever: r, answerer: a}
}

// Retrieve returns the ranked snippets for query without calling the model.
func (s *Service) Retrieve(ctx context.Context, query string, k int) ([]Snippet, error) {
	return s.retriever.AnswerContext(ctx, query, k)
}

// Search retrieves context for query and asks the model for a cited answer.
func (s *Service) Search(ctx context.Context, query string, k int) (*Answer, error) {
	if s.answerer == nil {
		return nil, errors.New("no generative model configured")
	}

	snippets, err := s.retriever.AnswerContext(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return s.answerer.Answer(ctx, query, snippets)
}

// Health reports the shape of the loaded index.
func (s *Service) Health() Health {
	ix := s.retriever.Index()
	return Health{
		Status:    "ok",
		Chunks:    ix.Len(),
		Dimension: ix.Dimension(),
		BuildID:   ix.BuildID(),
	}
}
