package core

// Config holds the immutable per-session settings. A Config value is built
// once at session construction and threaded through; nothing mutates it
// afterwards.
type Config struct {
	// EmbeddingModel names the model used for text and multimodal embeddings.
	EmbeddingModel string

	// WorkerCount bounds concurrent extraction tasks.
	WorkerCount int

	// EmbedBatch is the number of chunks embedded per provider call.
	EmbedBatch int

	// MaxRounds caps the planner loop.
	MaxRounds int

	// TextK, FigureK and TableK are the per-bucket retrieval depths.
	TextK   int
	FigureK int
	TableK  int

	// MemoryK is the per-tier depth for memory search.
	MemoryK int

	// ContextBudget is the approximate token budget of a composed context.
	ContextBudget int

	// TextRatio, FigureRatio and TableRatio split ContextBudget between the
	// modalities. The remainder goes to memory items.
	TextRatio   float64
	FigureRatio float64
	TableRatio  float64

	// DedupCosine and DedupLexical are the near-duplicate thresholds for
	// embedded and unembedded chunk pairs respectively.
	DedupCosine  float64
	DedupLexical float64
}

// DefaultConfig returns sensible defaults for a local session.
var DefaultConfig = Config{
	EmbeddingModel: "text-embedding-3-small",
	WorkerCount:    4,
	EmbedBatch:     32,
	MaxRounds:      6,
	TextK:          4,
	FigureK:        2,
	TableK:         2,
	MemoryK:        3,
	ContextBudget:  3000,
	TextRatio:      0.5,
	FigureRatio:    0.2,
	TableRatio:     0.2,
	DedupCosine:    0.97,
	DedupLexical:   0.9,
}
