// Package llm wraps the external language-model services behind two narrow
// gateways: a Completer (prompt → text) and an Embedder (text → vector).
//
// The production implementations are built on Genkit. Engines depend on the
// interfaces, not the implementations, so tests substitute deterministic
// mocks (see internal/testutil).
//
// Neither gateway retries; callers own their failure policy.
package llm

import (
	"context"
)

// Completion is the result of a text-completion request.
type Completion struct {
	Text       string
	Model      string
	TokensUsed int
}

// CompleteOptions tunes a single completion request.
// Zero values defer to the gateway's defaults.
type CompleteOptions struct {
	System      string
	Temperature float32
	MaxTokens   int
	Model       string
}

// Completer generates text from a prompt.
//
// Callers that expect structured output are responsible for locating a JSON
// array within the response text (see LocateJSONArray) and treating its
// absence as "no candidates", not as an error.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (*Completion, error)
}

// Embedder converts text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
