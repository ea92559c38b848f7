package generate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorainsight/dora/internal/log"
	"github.com/dorainsight/dora/internal/retrieval"
)

type stubGenerator struct {
	text   string
	err    error
	system string
	prompt string
}

func (s *stubGenerator) GenerateText(_ context.Context, system, prompt string) (string, error) {
	s.system = system
	s.prompt = prompt
	return s.text, s.err
}

func TestGenerateReturnsModelText(t *testing.T) {
	gen := &stubGenerator{text: "here is your answer"}
	svc := New(gen, log.NewNop())

	out := svc.Generate(context.Background(), "what changed?", "")

	assert.Equal(t, "here is your answer", out)
	assert.Contains(t, gen.prompt, "User's request: what changed?")
	assert.NotContains(t, gen.prompt, "context")
}

func TestGenerateIncludesContextBlock(t *testing.T) {
	gen := &stubGenerator{text: "ok"}
	svc := New(gen, log.NewNop())

	svc.Generate(context.Background(), "follow-up", "user: earlier question")

	require.Contains(t, gen.prompt, "user: earlier question")
	assert.Contains(t, gen.prompt, "User's request: follow-up")
}

func TestGenerateFailureReturnsFallback(t *testing.T) {
	gen := &stubGenerator{err: errors.New("quota exceeded")}
	svc := New(gen, log.NewNop())

	out := svc.Generate(context.Background(), "hello", "")

	assert.Equal(t, Fallback, out)
}

func TestGenerateEmptyTextReturnsFallback(t *testing.T) {
	svc := New(&stubGenerator{text: ""}, log.NewNop())

	out := svc.Generate(context.Background(), "hello", "")

	assert.Equal(t, Fallback, out)
}

func TestGenerateAuthorizesExternalData(t *testing.T) {
	gen := &stubGenerator{text: "ok"}
	svc := New(gen, log.NewNop())

	svc.Generate(context.Background(), "about my repo",
		retrieval.ExternalDataTag+"\nRepository acme/dora\n"+retrieval.ExternalDataEndTag)

	assert.Contains(t, gen.system, "explicitly authorized")
}

func TestGenerateOmitsAuthorizationWithoutExternalData(t *testing.T) {
	gen := &stubGenerator{text: "ok"}
	svc := New(gen, log.NewNop())

	svc.Generate(context.Background(), "hello", "user: plain history")

	assert.NotContains(t, gen.system, "explicitly authorized")
	assert.Contains(t, gen.system, "Dora")
}
