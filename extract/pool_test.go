package extract

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZiangHu97/paper-sailor/chunks"
	"github.com/ZiangHu97/paper-sailor/core"
)

type fakeVision struct {
	delay   time.Duration
	failFor string
	active  atomic.Int32
	peak    atomic.Int32
}

func (v *fakeVision) Describe(ctx context.Context, image []byte, hint string) (string, error) {
	cur := v.active.Add(1)
	defer v.active.Add(-1)
	for {
		old := v.peak.Load()
		if cur <= old || v.peak.CompareAndSwap(old, cur) {
			break
		}
	}
	if v.delay > 0 {
		select {
		case <-time.After(v.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if v.failFor != "" && string(image) == v.failFor {
		return "", errors.New("blurred scan")
	}
	return "caption of " + string(image), nil
}

type fakeEmbedder struct {
	fail  bool
	calls atomic.Int32
}

func (e *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.fail {
		return nil, errors.New("embedding backend down")
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return vecs, nil
}

func newTestPool(t *testing.T, vision core.VisionProvider, embedder core.EmbeddingProvider) (*Pool, *chunks.Store) {
	t.Helper()
	store, err := chunks.NewStore("sess-extract")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	cfg := core.DefaultConfig
	return NewPool(cfg, vision, embedder, store), store
}

func TestRunCaptionsEmbedsAndStores(t *testing.T) {
	pool, store := newTestPool(t, &fakeVision{}, &fakeEmbedder{})
	items := []Item{
		{PaperID: "p1", Type: core.ContentText, Location: "s1", Text: "introduction section", PageFrom: 1, PageTo: 2},
		{PaperID: "p1", Type: core.ContentFigure, Location: "f1", Image: []byte("fig-one"), PageFrom: 3, PageTo: 3},
	}
	results, err := pool.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("item %d: %v", i, r.Err)
		}
		if len(r.Chunk.Embedding) == 0 {
			t.Fatalf("item %d not embedded", i)
		}
	}
	if results[1].Chunk.Text != "caption of fig-one" {
		t.Fatalf("figure text = %q", results[1].Chunk.Text)
	}
	if store.Len() != 2 {
		t.Fatalf("store size = %d, want 2", store.Len())
	}
}

func TestPerItemFailureIsIsolated(t *testing.T) {
	pool, store := newTestPool(t, &fakeVision{failFor: "bad"}, &fakeEmbedder{})
	items := []Item{
		{PaperID: "p1", Type: core.ContentFigure, Location: "f1", Image: []byte("good")},
		{PaperID: "p1", Type: core.ContentFigure, Location: "f2", Image: []byte("bad")},
		{PaperID: "p1", Type: core.ContentText, Location: "s1", Text: "method details"},
	}
	results, err := pool.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[1].Err == nil {
		t.Fatal("bad scan should carry its error")
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("healthy items failed: %v / %v", results[0].Err, results[2].Err)
	}
	if store.Len() != 2 {
		t.Fatalf("store size = %d, want 2", store.Len())
	}
}

func TestConcurrencyIsBounded(t *testing.T) {
	vision := &fakeVision{delay: 20 * time.Millisecond}
	store, err := chunks.NewStore("sess-bounded")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	cfg := core.DefaultConfig
	cfg.WorkerCount = 2
	pool := NewPool(cfg, vision, &fakeEmbedder{}, store)

	items := make([]Item, 8)
	for i := range items {
		items[i] = Item{PaperID: "p1", Type: core.ContentFigure, Location: fmt.Sprintf("f%d", i), Image: []byte(fmt.Sprintf("img%d", i))}
	}
	if _, err := pool.Run(context.Background(), items); err != nil {
		t.Fatalf("run: %v", err)
	}
	if peak := vision.peak.Load(); peak > 2 {
		t.Fatalf("peak concurrency %d exceeds worker count 2", peak)
	}
}

func TestCancellationStopsDispatch(t *testing.T) {
	vision := &fakeVision{delay: 50 * time.Millisecond}
	pool, store := newTestPool(t, vision, &fakeEmbedder{})

	ctx, cancel := context.WithCancel(context.Background())
	items := make([]Item, 20)
	for i := range items {
		items[i] = Item{PaperID: "p1", Type: core.ContentFigure, Location: fmt.Sprintf("f%d", i), Image: []byte(fmt.Sprintf("img%d", i))}
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	results, err := pool.Run(ctx, items)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	var undispatched int
	for _, r := range results {
		if errors.Is(r.Err, context.Canceled) {
			undispatched++
		}
	}
	if undispatched == 0 {
		t.Fatal("expected some items to be cut off by cancellation")
	}
	if store.Len() != 0 {
		t.Fatalf("cancelled run must not upsert, store size = %d", store.Len())
	}
}

func TestNilEmbedderDegradesToKeyword(t *testing.T) {
	pool, store := newTestPool(t, &fakeVision{}, nil)
	var warnings []string
	pool.Warn = func(msg string) { warnings = append(warnings, msg) }

	items := []Item{{PaperID: "p1", Type: core.ContentText, Location: "s1", Text: "background material"}}
	results, err := pool.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("item should survive a missing embedder: %v", results[0].Err)
	}
	if len(results[0].Chunk.Embedding) != 0 {
		t.Fatal("chunk should stay unembedded")
	}
	if len(warnings) != 1 {
		t.Fatalf("want 1 warning, got %d", len(warnings))
	}
	if store.Len() != 1 {
		t.Fatalf("store size = %d, want 1", store.Len())
	}
}

func TestEmbedFailureDegradesToKeyword(t *testing.T) {
	pool, store := newTestPool(t, &fakeVision{}, &fakeEmbedder{fail: true})
	var warnings []string
	pool.Warn = func(msg string) { warnings = append(warnings, msg) }

	items := []Item{{PaperID: "p1", Type: core.ContentText, Location: "s1", Text: "related work"}}
	results, err := pool.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("item should survive embed failure: %v", results[0].Err)
	}
	if len(results[0].Chunk.Embedding) != 0 {
		t.Fatal("chunk should stay unembedded")
	}
	if len(warnings) != 1 {
		t.Fatalf("want 1 warning, got %d", len(warnings))
	}
	if store.Len() != 1 {
		t.Fatalf("store size = %d, want 1", store.Len())
	}
}
