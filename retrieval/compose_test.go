package retrieval

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ZiangHu97/paper-sailor/chunks"
	"github.com/ZiangHu97/paper-sailor/core"
	"github.com/ZiangHu97/paper-sailor/memory"
	"github.com/ZiangHu97/paper-sailor/memory/journal"
)

func newFixtures(t *testing.T) (*chunks.Store, *memory.Manager) {
	t.Helper()
	store, err := chunks.NewStore("sess-retrieval")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	backend, err := journal.Open(filepath.Join(t.TempDir(), "memory.jsonl"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	return store, memory.NewManager(backend, "sess-retrieval", nil)
}

func seedChunk(t *testing.T, store *chunks.Store, paper string, ct core.ContentType, loc, text string, emb []float32) {
	t.Helper()
	_, err := store.Upsert(context.Background(), core.Chunk{
		ID:        core.ChunkID(paper, ct, loc),
		PaperID:   paper,
		Type:      ct,
		Text:      text,
		Embedding: emb,
		PageFrom:  1,
		PageTo:    1,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	store, mem := newFixtures(t)
	ctx := context.Background()

	seedChunk(t, store, "p1", core.ContentText, "s1", "graph attention networks on citation graphs", []float32{1, 0, 0})
	seedChunk(t, store, "p2", core.ContentText, "s1", "message passing over sparse graphs", []float32{0.7, 0.7, 0})
	seedChunk(t, store, "p1", core.ContentFigure, "f1", "architecture diagram of the encoder", []float32{0, 1, 0})
	seedChunk(t, store, "p2", core.ContentTable, "t1", "benchmark results on ogbn-arxiv", []float32{0, 0, 1})

	if err := mem.Put(ctx, memory.TierUser, "interest", "user cares about scalability of graph models"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mem.Put(ctx, memory.TierSession, "topic", "graph neural networks survey"); err != nil {
		t.Fatalf("put: %v", err)
	}

	var first string
	for i := 0; i < 5; i++ {
		rc, err := Compose(ctx, store, mem, core.DefaultConfig, "graph networks", []float32{1, 0, 0})
		if err != nil {
			t.Fatalf("compose run %d: %v", i, err)
		}
		rendered := rc.Render()
		if i == 0 {
			first = rendered
			continue
		}
		if rendered != first {
			t.Fatalf("run %d rendered context differs:\n%s\n---\n%s", i, first, rendered)
		}
	}
}

func TestDedupKeepsHigherRanked(t *testing.T) {
	store, mem := newFixtures(t)
	ctx := context.Background()

	// Same embedding, so cosine similarity is 1.0 and the lower-ranked copy
	// must be dropped.
	seedChunk(t, store, "p1", core.ContentText, "s1", "residual connections stabilise deep stacks", []float32{1, 0})
	seedChunk(t, store, "p2", core.ContentText, "s1", "residual connections stabilise very deep stacks", []float32{1, 0})

	rc, err := Compose(ctx, store, mem, core.DefaultConfig, "residual", []float32{1, 0})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(rc.Text) != 1 {
		t.Fatalf("want 1 text chunk after dedup, got %d", len(rc.Text))
	}
	if got := rc.Text[0].Chunk.PaperID; got != "p1" {
		t.Fatalf("want higher-ranked p1 kept, got %s", got)
	}
}

func TestLexicalDedupWithoutEmbeddings(t *testing.T) {
	store, mem := newFixtures(t)
	ctx := context.Background()

	seedChunk(t, store, "p1", core.ContentText, "s1", "attention is all you need for translation", nil)
	seedChunk(t, store, "p2", core.ContentText, "s1", "attention is all you need for translation", nil)
	seedChunk(t, store, "p3", core.ContentText, "s1", "convolutions remain strong on small datasets", nil)

	rc, err := Compose(ctx, store, mem, core.DefaultConfig, "attention for small datasets", nil)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(rc.Text) != 2 {
		t.Fatalf("want 2 text chunks after lexical dedup, got %d", len(rc.Text))
	}
}

func TestBudgetTruncationDropsTailOnly(t *testing.T) {
	store, mem := newFixtures(t)
	ctx := context.Background()

	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	seedChunk(t, store, "p1", core.ContentText, "s1", "alpha "+string(long), []float32{1, 0, 0})
	seedChunk(t, store, "p2", core.ContentText, "s1", "beta "+string(long), []float32{0.8, 0.6, 0})
	seedChunk(t, store, "p3", core.ContentText, "s1", "gamma "+string(long), []float32{0.6, 0.8, 0})

	cfg := core.DefaultConfig
	cfg.ContextBudget = 300 // text share fits roughly one long chunk

	full, err := Compose(ctx, store, mem, core.DefaultConfig, "q", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("compose full: %v", err)
	}
	clipped, err := Compose(ctx, store, mem, cfg, "q", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("compose clipped: %v", err)
	}
	if len(clipped.Text) == 0 || len(clipped.Text) >= len(full.Text) {
		t.Fatalf("want strict non-empty prefix, got %d of %d", len(clipped.Text), len(full.Text))
	}
	for i, sc := range clipped.Text {
		if sc.Chunk.ID != full.Text[i].Chunk.ID {
			t.Fatalf("truncation reordered position %d: %s vs %s", i, sc.Chunk.ID, full.Text[i].Chunk.ID)
		}
	}
}

func TestMemoryTiersAppearInContext(t *testing.T) {
	store, mem := newFixtures(t)
	ctx := context.Background()

	if err := mem.Put(ctx, memory.TierAgent, "heuristic", "prefer papers with ablation tables"); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, err := Compose(ctx, store, mem, core.DefaultConfig, "ablation tables papers", nil)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(rc.Memories) != 1 || rc.Memories[0].Item.Tier != memory.TierAgent {
		t.Fatalf("want one agent-tier memory hit, got %+v", rc.Memories)
	}
}
