package chunks

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ZiangHu97/paper-sailor/core"
)

// Provenance tags on retrieval results.
const (
	ProvenanceVector  = "vector"
	ProvenanceKeyword = "keyword"
)

// Scored is a chunk annotated with its retrieval score and provenance tag.
type Scored struct {
	Chunk      core.Chunk
	Score      float64
	Provenance string
}

// Buckets holds the three per-modality ranked lists of a bucketed query.
type Buckets struct {
	Text    []Scored
	Figures []Scored
	Tables  []Scored
}

// Store holds one session's chunks. Writes are serialized behind a single
// writer lock; reads may proceed concurrently.
type Store struct {
	mu        sync.RWMutex
	sessionID string
	chunks    map[string]core.Chunk
	dimension int

	col      *chromem.Collection
	embedded map[core.ContentType]map[string]struct{}

	warnings []string
	warned   map[string]struct{}
}

// NewStore creates an empty chunk store for a session.
func NewStore(sessionID string) (*Store, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(fmt.Sprintf("session_%s", sessionID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Store{
		sessionID: sessionID,
		chunks:    make(map[string]core.Chunk),
		col:       col,
		embedded: map[core.ContentType]map[string]struct{}{
			core.ContentText:   {},
			core.ContentFigure: {},
			core.ContentTable:  {},
		},
		warned: make(map[string]struct{}),
	}, nil
}

// SessionID returns the owning session's id.
func (s *Store) SessionID() string { return s.sessionID }

// Len returns the number of stored chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Dimension returns the fixed embedding dimension, 0 while unset.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Upsert stores a chunk, overwriting any previous content and embedding for
// the same id. The first chunk with an embedding fixes the session dimension;
// a later mismatched embedding is dropped with a warning and the chunk is
// stored for keyword retrieval only. Returns the chunk as stored. An error
// means the index write failed and is fatal for the caller's round.
func (s *Store) Upsert(ctx context.Context, chunk core.Chunk) (core.Chunk, error) {
	if chunk.ID == "" {
		return core.Chunk{}, fmt.Errorf("upsert: empty chunk id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(chunk.Embedding) > 0 {
		if s.dimension == 0 {
			s.dimension = len(chunk.Embedding)
		} else if len(chunk.Embedding) != s.dimension {
			s.warnLocked(fmt.Sprintf(
				"embedding_dimension_mismatch: store fixed at %d, got %d", s.dimension, len(chunk.Embedding)))
			chunk.Embedding = nil
		}
	}

	s.chunks[chunk.ID] = chunk
	ids := s.embedded[chunk.Type]

	if len(chunk.Embedding) > 0 {
		doc := chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Text,
			Embedding: chunk.Embedding,
			Metadata: map[string]string{
				"paper_id":     chunk.PaperID,
				"content_type": string(chunk.Type),
			},
		}
		if err := s.col.AddDocument(ctx, doc); err != nil {
			return core.Chunk{}, fmt.Errorf("index chunk %s: %w", chunk.ID, err)
		}
		ids[chunk.ID] = struct{}{}
		return chunk, nil
	}

	// Re-upsert may replace an embedded chunk with an unembedded one; the
	// stale index entry must not keep ranking it.
	if _, was := ids[chunk.ID]; was {
		if err := s.col.Delete(ctx, nil, nil, chunk.ID); err != nil {
			log.Printf("[CHUNKS] drop stale index entry %s: %v", chunk.ID, err)
		}
		delete(ids, chunk.ID)
	}
	return chunk, nil
}

// Query ranks chunks of one content type against the query. The vector path
// is taken when the query vector matches the session dimension and at least
// one chunk of the type is embedded; otherwise ranking falls back to lexical
// overlap of queryText against chunk text. Results carry the provenance tag
// of the path taken and are capped at k.
func (s *Store) Query(ctx context.Context, queryVec []float32, queryText string, ct core.ContentType, k int) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	embeddedCount := len(s.embedded[ct])
	if len(queryVec) > 0 && len(queryVec) == s.dimension && embeddedCount > 0 {
		return s.vectorQueryLocked(ctx, queryVec, ct, k, embeddedCount)
	}
	return s.keywordQueryLocked(queryText, ct, k), nil
}

// QueryBuckets runs Query independently per content type with its own k.
func (s *Store) QueryBuckets(ctx context.Context, queryVec []float32, queryText string, kText, kFigure, kTable int) (*Buckets, error) {
	text, err := s.Query(ctx, queryVec, queryText, core.ContentText, kText)
	if err != nil {
		return nil, err
	}
	figures, err := s.Query(ctx, queryVec, queryText, core.ContentFigure, kFigure)
	if err != nil {
		return nil, err
	}
	tables, err := s.Query(ctx, queryVec, queryText, core.ContentTable, kTable)
	if err != nil {
		return nil, err
	}
	return &Buckets{Text: text, Figures: figures, Tables: tables}, nil
}

func (s *Store) vectorQueryLocked(ctx context.Context, queryVec []float32, ct core.ContentType, k, embeddedCount int) ([]Scored, error) {
	// Rank the full bucket, not just the top k: the index's own top-k
	// selection is not defined for tied scores, and ordering here must be
	// reproducible down to the tie-break.
	where := map[string]string{"content_type": string(ct)}
	results, err := s.col.QueryEmbedding(ctx, queryVec, embeddedCount, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	scored := make([]Scored, 0, len(results))
	for _, res := range results {
		chunk, ok := s.chunks[res.ID]
		if !ok {
			continue
		}
		scored = append(scored, Scored{
			Chunk:      chunk,
			Score:      float64(res.Similarity),
			Provenance: ProvenanceVector,
		})
	}
	sortScored(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *Store) keywordQueryLocked(queryText string, ct core.ContentType, k int) []Scored {
	var scored []Scored
	for _, chunk := range s.chunks {
		if chunk.Type != ct {
			continue
		}
		score := core.LexicalOverlap(queryText, chunk.Text)
		if score <= 0 {
			continue
		}
		scored = append(scored, Scored{
			Chunk:      chunk,
			Score:      score,
			Provenance: ProvenanceKeyword,
		})
	}
	sortScored(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// sortScored orders by score descending, ties broken by ascending chunk id.
func sortScored(scored []Scored) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})
}

// Warn records a degradation warning, once per distinct message.
func (s *Store) Warn(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnLocked(msg)
}

func (s *Store) warnLocked(msg string) {
	if _, seen := s.warned[msg]; seen {
		return
	}
	s.warned[msg] = struct{}{}
	s.warnings = append(s.warnings, msg)
	log.Printf("[CHUNKS] %s", msg)
}

// Warnings returns the deduplicated degradation warnings recorded so far.
func (s *Store) Warnings() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.warnings))
	copy(out, s.warnings)
	return out
}
