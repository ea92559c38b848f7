// Package generate composes the final model prompt and invokes the
// generation model once, non-streaming.
//
// The service never fails past its boundary: any upstream error degrades to a
// fixed user-facing apology so a turn always produces an answer.
package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/dorainsight/dora/internal/log"
	"github.com/dorainsight/dora/internal/retrieval"
)

// Fallback is returned whenever the generation call fails. It is persisted as
// the assistant turn like any other reply.
const Fallback = "Sorry, I encountered an error processing your request with the LLM."

// persona is the fixed system instruction.
const persona = "Your name is Dora. You are an AI assistant designed to help users understand " +
	"their data better, often through visualizations and insightful analysis. Be helpful and friendly."

// authorizationNote is appended to the system instruction whenever the context
// carries live GitHub data, so the model treats it as permitted-to-discuss.
const authorizationNote = "The context may contain a block delimited by " +
	retrieval.ExternalDataTag + " and " + retrieval.ExternalDataEndTag + ". " +
	"The user connected their GitHub account and explicitly authorized you to read and " +
	"discuss that data with them; answer questions about it freely."

// generateTimeout bounds one generation call.
const generateTimeout = 60 * time.Second

// TextGenerator is the model dependency. Consumer-defined so tests can
// substitute a stub.
type TextGenerator interface {
	GenerateText(ctx context.Context, system, prompt string) (string, error)
}

// GenkitGenerator calls a provider-qualified model through genkit.
type GenkitGenerator struct {
	g     *genkit.Genkit
	model string
}

// NewGenkitGenerator wraps a genkit instance and model name.
func NewGenkitGenerator(g *genkit.Genkit, model string) *GenkitGenerator {
	return &GenkitGenerator{g: g, model: model}
}

// GenerateText performs one non-streaming model call.
func (gg *GenkitGenerator) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.model),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generation call: %w", err)
	}
	return resp.Text(), nil
}

// Service produces assistant replies.
type Service struct {
	gen    TextGenerator
	logger log.Logger
}

// New creates a generation service.
func New(gen TextGenerator, logger log.Logger) *Service {
	return &Service{gen: gen, logger: logger}
}

// Generate composes system instructions, retrieved context and the user
// prompt, and returns the model's reply. On any upstream failure it returns
// Fallback; it never returns an error.
func (s *Service) Generate(ctx context.Context, prompt, contextBlock string) string {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	system := persona
	if strings.Contains(contextBlock, retrieval.ExternalDataTag) {
		system += "\n\n" + authorizationNote
	}

	text, err := s.gen.GenerateText(ctx, system, composePrompt(prompt, contextBlock))
	if err != nil {
		s.logger.Error("generation failed, returning fallback", "error", err)
		return Fallback
	}
	if text == "" {
		s.logger.Warn("generation returned empty text, returning fallback")
		return Fallback
	}
	return text
}

// composePrompt mirrors the single-block prompt layout the model is tuned
// for: context (when present) framed by separators, then the user request.
func composePrompt(prompt, contextBlock string) string {
	if contextBlock == "" {
		return "User's request: " + prompt
	}
	return fmt.Sprintf("Based on the following context from the user's prior conversations and connected accounts:\n---\n%s\n---\n\nUser's request: %s",
		contextBlock, prompt)
}
