// Package embedding wraps the external embedding model behind a best-effort
// interface: a failed call yields "no vector", never an error. Downstream
// stages treat a missing embedding as a legitimate skip condition.
package embedding

import (
	"context"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/dorainsight/dora/internal/log"
)

// embedTimeout bounds a single embedding call so a stalled upstream cannot
// wedge a turn.
const embedTimeout = 10 * time.Second

// Embedder is the genkit-shaped dependency. Consumer-defined so tests can
// substitute a stub; googlegenai embedders satisfy it.
type Embedder interface {
	Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error)
}

// Service converts text to fixed-length vectors.
type Service struct {
	embedder Embedder
	logger   log.Logger
}

// New creates an embedding service.
func New(embedder Embedder, logger log.Logger) *Service {
	return &Service{embedder: embedder, logger: logger}
}

// Embed maps text to a vector. The second return is false when the upstream
// call failed or returned nothing; callers proceed without an embedding.
// Dimensionality is validated by the persistence layer, not here.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, bool) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		s.logger.Warn("embedding call failed", "error", err, "text_length", len(text))
		return nil, false
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		s.logger.Warn("embedding call returned no vector", "text_length", len(text))
		return nil, false
	}

	return resp.Embeddings[0].Embedding, true
}
