package core

import "context"

// EmbeddingProvider converts text to fixed-length vectors. Multimodal content
// is embedded through its textual description, so a single batch entry point
// covers both paths.
//
// Implementations may fail (network, auth). Callers degrade to keyword
// retrieval instead of propagating the failure.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// VisionProvider turns an image of a figure or table into a textual
// description suitable for indexing. A per-item failure yields no
// description and must not affect sibling items.
type VisionProvider interface {
	Describe(ctx context.Context, image []byte, hint string) (string, error)
}

// SynthesisRequest carries everything the synthesis collaborator needs for a
// round: the topic, the round's questions, the rendered retrieval context per
// question, and the prior rounds' output for continuity.
type SynthesisRequest struct {
	Topic     string
	Round     int
	Questions []string
	Context   map[string]string

	PriorFindings []Finding
	PriorIdeas    []Idea
}

// RoundResult is the structured output of one synthesis round.
type RoundResult struct {
	Findings    []Finding          `json:"findings"`
	Ideas       []Idea             `json:"ideas"`
	ReadingList []ReadingListEntry `json:"reading_list"`
}

// SynthesisProvider is the external LLM collaborator. It is treated as a
// black box returning structured text.
type SynthesisProvider interface {
	// Questions generates the round's question set. An empty set is the
	// planner's stop signal.
	Questions(ctx context.Context, req *SynthesisRequest) ([]string, error)

	// Synthesize produces findings, ideas and reading-list entries from the
	// per-question context.
	Synthesize(ctx context.Context, req *SynthesisRequest) (*RoundResult, error)
}
