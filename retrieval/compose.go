// Package retrieval fuses chunk store buckets and memory search into one
// deterministic, budgeted context for synthesis. It never mutates either
// store: composing the same query against unchanged state yields a
// bit-identical result.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ZiangHu97/paper-sailor/chunks"
	"github.com/ZiangHu97/paper-sailor/core"
	"github.com/ZiangHu97/paper-sailor/memory"
)

// MemoryHit is a memory item carried into the composed context.
type MemoryHit struct {
	Item       memory.Item
	Score      float64
	Provenance string
}

// RankedContext is the read-only snapshot handed to the synthesis
// collaborator: text bucket, figure bucket, table bucket, then memory items,
// each ranked within its section.
type RankedContext struct {
	Query    string
	Text     []chunks.Scored
	Figures  []chunks.Scored
	Tables   []chunks.Scored
	Memories []MemoryHit
}

// Compose runs the bucketed chunk query and the three-tier memory search,
// removes near-duplicate chunks keeping the higher-ranked instance, and
// truncates to the config's token budget split by the per-modality ratios.
// Truncation only drops the lowest-ranked tail of a bucket, never reorders.
func Compose(ctx context.Context, store *chunks.Store, mem *memory.Manager, cfg core.Config, query string, queryVec []float32) (*RankedContext, error) {
	buckets, err := store.QueryBuckets(ctx, queryVec, query, cfg.TextK, cfg.FigureK, cfg.TableK)
	if err != nil {
		return nil, fmt.Errorf("bucketed query: %w", err)
	}

	var memories []MemoryHit
	for _, tier := range []memory.Tier{memory.TierUser, memory.TierSession, memory.TierAgent} {
		for _, hit := range mem.Search(ctx, tier, query, cfg.MemoryK) {
			memories = append(memories, MemoryHit{Item: hit.Item, Score: hit.Score, Provenance: hit.Provenance})
		}
	}
	// Relevance first, recency breaking equal relevance, key as final tie.
	sort.Slice(memories, func(i, j int) bool {
		if memories[i].Score != memories[j].Score {
			return memories[i].Score > memories[j].Score
		}
		if !memories[i].Item.CreatedAt.Equal(memories[j].Item.CreatedAt) {
			return memories[i].Item.CreatedAt.After(memories[j].Item.CreatedAt)
		}
		return memories[i].Item.Key < memories[j].Item.Key
	})

	rc := &RankedContext{Query: query}
	rc.Text, rc.Figures, rc.Tables = dedupeBuckets(buckets, cfg)
	rc.Memories = memories

	rc.truncate(cfg)
	return rc, nil
}

// dedupeBuckets walks the final ordering (text, figure, table) and drops any
// chunk that is a near-duplicate of an already accepted, higher-ranked one.
func dedupeBuckets(b *chunks.Buckets, cfg core.Config) (text, figures, tables []chunks.Scored) {
	var accepted []chunks.Scored
	keep := func(in []chunks.Scored) []chunks.Scored {
		var out []chunks.Scored
		for _, cand := range in {
			if isNearDuplicate(cand, accepted, cfg) {
				continue
			}
			accepted = append(accepted, cand)
			out = append(out, cand)
		}
		return out
	}
	return keep(b.Text), keep(b.Figures), keep(b.Tables)
}

func isNearDuplicate(cand chunks.Scored, accepted []chunks.Scored, cfg core.Config) bool {
	for _, prev := range accepted {
		if len(cand.Chunk.Embedding) > 0 && len(prev.Chunk.Embedding) == len(cand.Chunk.Embedding) {
			if core.Cosine(cand.Chunk.Embedding, prev.Chunk.Embedding) >= cfg.DedupCosine {
				return true
			}
			continue
		}
		if core.LexicalOverlap(cand.Chunk.Text, prev.Chunk.Text) >= cfg.DedupLexical {
			return true
		}
	}
	return false
}

func (rc *RankedContext) truncate(cfg core.Config) {
	memRatio := 1 - cfg.TextRatio - cfg.FigureRatio - cfg.TableRatio
	if memRatio < 0 {
		memRatio = 0
	}
	rc.Text = clipChunks(rc.Text, int(float64(cfg.ContextBudget)*cfg.TextRatio))
	rc.Figures = clipChunks(rc.Figures, int(float64(cfg.ContextBudget)*cfg.FigureRatio))
	rc.Tables = clipChunks(rc.Tables, int(float64(cfg.ContextBudget)*cfg.TableRatio))
	rc.Memories = clipMemories(rc.Memories, int(float64(cfg.ContextBudget)*memRatio))
}

func clipChunks(in []chunks.Scored, budget int) []chunks.Scored {
	used := 0
	for i, sc := range in {
		used += estimateTokens(sc.Chunk.Text)
		if used > budget {
			return in[:i]
		}
	}
	return in
}

func clipMemories(in []MemoryHit, budget int) []MemoryHit {
	used := 0
	for i, hit := range in {
		used += estimateTokens(hit.Item.Value)
		if used > budget {
			return in[:i]
		}
	}
	return in
}

// estimateTokens approximates the token count of a text. A byte-based
// estimate keeps composition deterministic and offline; exact tokenizer
// counts are not worth a network-backed BPE table here.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Render formats the context for the synthesis prompt, section by section in
// the ranked order.
func (rc *RankedContext) Render() string {
	var sb strings.Builder
	writeChunks := func(header string, list []chunks.Scored) {
		if len(list) == 0 {
			return
		}
		fmt.Fprintf(&sb, "=== %s ===\n", header)
		for _, sc := range list {
			fmt.Fprintf(&sb, "[%s p.%d score=%.3f %s] %s\n",
				sc.Chunk.PaperID, sc.Chunk.PageFrom, sc.Score, sc.Provenance, sc.Chunk.Text)
		}
	}
	writeChunks("TEXT", rc.Text)
	writeChunks("FIGURES", rc.Figures)
	writeChunks("TABLES", rc.Tables)
	if len(rc.Memories) > 0 {
		sb.WriteString("=== MEMORY ===\n")
		for _, hit := range rc.Memories {
			fmt.Fprintf(&sb, "[%s %s] %s\n", hit.Item.Tier, hit.Item.Key, hit.Item.Value)
		}
	}
	return sb.String()
}

// Citations lists the evidence coordinates of every chunk in the context, in
// context order.
func (rc *RankedContext) Citations() []core.Citation {
	var cites []core.Citation
	for _, list := range [][]chunks.Scored{rc.Text, rc.Figures, rc.Tables} {
		for _, sc := range list {
			cites = append(cites, core.Citation{PaperID: sc.Chunk.PaperID, PageFrom: sc.Chunk.PageFrom})
		}
	}
	return cites
}
