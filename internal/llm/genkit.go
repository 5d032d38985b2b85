package llm

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"
)

// GenkitCompleter implements Completer on top of a Genkit instance.
type GenkitCompleter struct {
	g     *genkit.Genkit
	model string // default model name, overridable per request
}

// NewGenkitCompleter creates a completion gateway using the given default model.
func NewGenkitCompleter(g *genkit.Genkit, model string) *GenkitCompleter {
	return &GenkitCompleter{g: g, model: model}
}

// Complete sends one generation request and returns the raw response text.
func (c *GenkitCompleter) Complete(ctx context.Context, prompt string, opts CompleteOptions) (*Completion, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	genOpts := []ai.GenerateOption{
		ai.WithModelName(model),
		ai.WithPrompt(prompt),
	}
	if opts.System != "" {
		genOpts = append(genOpts, ai.WithSystem(opts.System))
	}
	if opts.Temperature > 0 || opts.MaxTokens > 0 {
		cfg := &genai.GenerateContentConfig{}
		if opts.Temperature > 0 {
			cfg.Temperature = genai.Ptr(opts.Temperature)
		}
		if opts.MaxTokens > 0 {
			cfg.MaxOutputTokens = int32(opts.MaxTokens)
		}
		genOpts = append(genOpts, ai.WithConfig(cfg))
	}

	resp, err := genkit.Generate(ctx, c.g, genOpts...)
	if err != nil {
		return nil, fmt.Errorf("generating completion: %w", err)
	}

	out := &Completion{Text: resp.Text(), Model: model}
	if resp.Usage != nil {
		out.TokensUsed = resp.Usage.TotalTokens
	}
	return out, nil
}

// GenkitEmbedder implements Embedder on top of a Genkit ai.Embedder.
// Vectors are truncated to the configured dimensionality so they match the
// pgvector column width.
type GenkitEmbedder struct {
	embedder ai.Embedder
	dim      int32
}

// NewGenkitEmbedder creates an embedding gateway producing dim-length vectors.
func NewGenkitEmbedder(embedder ai.Embedder, dim int) *GenkitEmbedder {
	return &GenkitEmbedder{embedder: embedder, dim: int32(dim)}
}

// Embed generates a vector for a single text.
func (e *GenkitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates vectors for several texts in one request.
func (e *GenkitEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	dim := e.dim
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   docs,
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding batch of %d: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding for input %d", i)
		}
		out[i] = emb.Embedding
	}
	return out, nil
}
