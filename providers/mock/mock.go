// Package mock provides deterministic offline stand-ins for the embedding,
// vision and synthesis collaborators. They back the tests and the no-API-key
// mode of the CLI.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"

	"github.com/ZiangHu97/paper-sailor/core"
)

// Embedder generates deterministic embeddings based on text hash.
type Embedder struct {
	dimensions int
}

// NewEmbedder creates a mock embedder with the given dimensionality.
func NewEmbedder(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Embedder{dimensions: dimensions}
}

// EmbedTexts creates one deterministic unit vector per text. Uses hash-based
// generation so the same text always maps to the same vector.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		h := fnv.New64a()
		h.Write([]byte(text))
		seed := h.Sum64()

		embedding := make([]float32, e.dimensions)
		for j := 0; j < e.dimensions; j++ {
			// Simple LCG (Linear Congruential Generator)
			seed = seed*6364136223846793005 + 1442695040888963407
			embedding[j] = float32(int64(seed)) / float32(math.MaxInt64)
		}
		out[i] = normalize(embedding)
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}
	return normalized
}

// Vision produces a fixed-form caption without calling any model.
type Vision struct{}

// Describe returns a stub caption derived from the hint and image size.
func (Vision) Describe(ctx context.Context, image []byte, hint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("stub caption (%d bytes): %s", len(image), hint), nil
}

// Synthesizer replays scripted rounds. Each call to Questions or Synthesize
// consumes the next entry from its queue; an exhausted queue yields the
// zero value, which reads as "nothing left to ask".
type Synthesizer struct {
	mu        sync.Mutex
	questions [][]string
	results   []core.RoundResult
	qCalls    int
	sCalls    int
}

// NewSynthesizer builds a scripted synthesizer. The two slices are consumed
// round by round.
func NewSynthesizer(questions [][]string, results []core.RoundResult) *Synthesizer {
	return &Synthesizer{questions: questions, results: results}
}

func (s *Synthesizer) Questions(ctx context.Context, req *core.SynthesisRequest) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.qCalls >= len(s.questions) {
		s.qCalls++
		return nil, nil
	}
	qs := s.questions[s.qCalls]
	s.qCalls++
	return qs, nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, req *core.SynthesisRequest) (*core.RoundResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sCalls >= len(s.results) {
		s.sCalls++
		return &core.RoundResult{}, nil
	}
	res := s.results[s.sCalls]
	s.sCalls++
	return &res, nil
}

// FailingSynthesizer fails every call a fixed number of times before
// delegating, for exercising retry paths.
type FailingSynthesizer struct {
	Inner     core.SynthesisProvider
	FailTimes int

	mu    sync.Mutex
	fails int
}

func (f *FailingSynthesizer) Questions(ctx context.Context, req *core.SynthesisRequest) ([]string, error) {
	if err := f.maybeFail(); err != nil {
		return nil, err
	}
	return f.Inner.Questions(ctx, req)
}

func (f *FailingSynthesizer) Synthesize(ctx context.Context, req *core.SynthesisRequest) (*core.RoundResult, error) {
	if err := f.maybeFail(); err != nil {
		return nil, err
	}
	return f.Inner.Synthesize(ctx, req)
}

func (f *FailingSynthesizer) maybeFail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails < f.FailTimes {
		f.fails++
		return fmt.Errorf("synthesis backend unavailable (failure %d)", f.fails)
	}
	return nil
}
