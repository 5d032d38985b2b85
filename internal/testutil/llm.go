// Package testutil provides deterministic fakes for the LLM gateways and the
// interest store, used by the engine unit tests.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"sync"

	"github.com/newnotes/insight/internal/llm"
)

// MockEmbedder produces deterministic vectors derived from the input text,
// with optional per-text overrides so tests can force specific similarities.
type MockEmbedder struct {
	mu        sync.Mutex
	dim       int
	overrides map[string][]float32
	calls     int

	// Err, when set, is returned by every call.
	Err error
}

// NewMockEmbedder creates a mock embedder producing dim-length vectors.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{dim: dim, overrides: make(map[string][]float32)}
}

// SetVector forces the vector returned for text (case-insensitive match).
func (m *MockEmbedder) SetVector(text string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[strings.ToLower(text)] = vec
}

// Calls returns the number of embedding-service calls made so far.
// Embed and EmbedBatch each count as one call.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.vector(text), nil
}

func (m *MockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

// vector derives a stable pseudo-random unit-range vector from text.
// Callers must hold m.mu.
func (m *MockEmbedder) vector(text string) []float32 {
	if v, ok := m.overrides[strings.ToLower(text)]; ok {
		return v
	}
	vec := make([]float32, m.dim)
	seed := sha256.Sum256([]byte(strings.ToLower(text)))
	buf := seed[:]
	for i := range vec {
		if len(buf) < 4 {
			next := sha256.Sum256(buf)
			buf = next[:]
		}
		bits := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		vec[i] = float32(bits%2000)/1000 - 1 // [-1, 1)
	}
	return vec
}

// MockCompleter replays scripted responses in order; the last response
// repeats once the script runs out.
type MockCompleter struct {
	mu        sync.Mutex
	responses []string
	idx       int

	// Prompts records every prompt received, in order.
	Prompts []string

	// Err, when set, is returned by every call.
	Err error
}

// NewMockCompleter creates a completer that replays the given responses.
func NewMockCompleter(responses ...string) *MockCompleter {
	return &MockCompleter{responses: responses}
}

func (m *MockCompleter) Complete(_ context.Context, prompt string, _ llm.CompleteOptions) (*llm.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.responses) == 0 {
		return &llm.Completion{Text: "[]", Model: "mock"}, nil
	}
	text := m.responses[m.idx]
	if m.idx < len(m.responses)-1 {
		m.idx++
	}
	return &llm.Completion{Text: text, Model: "mock"}, nil
}
