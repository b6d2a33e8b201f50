// Package extract turns raw paper material into embedded chunks. A fixed
// pool of workers captions figures and tables through the vision provider,
// then the surviving texts are embedded in batches and upserted into the
// session chunk store. One bad item never sinks the batch; a store write
// failure does.
package extract

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ZiangHu97/paper-sailor/chunks"
	"github.com/ZiangHu97/paper-sailor/core"
)

// Item is one unit of raw material pulled from a paper.
type Item struct {
	PaperID   string
	Type      core.ContentType
	Location  string
	Text      string
	Image     []byte
	PageFrom  int
	PageTo    int
	ImagePath string
}

// Result pairs an input item with its produced chunk or the error that
// stopped it.
type Result struct {
	Item  Item
	Chunk *core.Chunk
	Err   error
}

// Pool processes extraction items with bounded concurrency.
type Pool struct {
	workers  int
	batch    int
	vision   core.VisionProvider
	embedder core.EmbeddingProvider
	store    *chunks.Store

	// Warn receives non-fatal degradation notices. Optional.
	Warn func(string)
}

// NewPool wires a pool against a session store. workers and batch fall back
// to the config defaults when non-positive.
func NewPool(cfg core.Config, vision core.VisionProvider, embedder core.EmbeddingProvider, store *chunks.Store) *Pool {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = core.DefaultConfig.WorkerCount
	}
	batch := cfg.EmbedBatch
	if batch <= 0 {
		batch = core.DefaultConfig.EmbedBatch
	}
	return &Pool{workers: workers, batch: batch, vision: vision, embedder: embedder, store: store}
}

// Run captions, embeds and upserts the given items. The returned slice is
// positionally aligned with the input. Per-item failures are recorded on the
// result and reported as warnings; an error return means the store itself
// rejected a write and the caller must treat the round as failed.
func (p *Pool) Run(ctx context.Context, items []Item) ([]Result, error) {
	results := make([]Result, len(items))
	tasks := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range tasks {
				results[idx] = p.caption(ctx, items[idx])
			}
		}()
	}

	dispatched := 0
dispatch:
	for i := range items {
		select {
		case <-ctx.Done():
			break dispatch
		case tasks <- i:
			dispatched++
		}
	}
	close(tasks)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		for i := dispatched; i < len(items); i++ {
			results[i] = Result{Item: items[i], Err: err}
		}
		return results, err
	}

	p.embed(ctx, results)

	for i := range results {
		if results[i].Err != nil || results[i].Chunk == nil {
			continue
		}
		stored, err := p.store.Upsert(ctx, *results[i].Chunk)
		if err != nil {
			return results, fmt.Errorf("upsert %s: %w", results[i].Chunk.ID, err)
		}
		results[i].Chunk = &stored
	}
	return results, nil
}

// caption produces the chunk text for one item. Figures and tables go
// through the vision provider; plain text passes straight through.
func (p *Pool) caption(ctx context.Context, item Item) Result {
	text := item.Text
	if item.Type != core.ContentText && len(item.Image) > 0 {
		if p.vision == nil {
			return Result{Item: item, Err: fmt.Errorf("caption %s/%s: no vision provider", item.PaperID, item.Location)}
		}
		desc, err := p.vision.Describe(ctx, item.Image, visionHint(item))
		if err != nil {
			return Result{Item: item, Err: fmt.Errorf("caption %s/%s: %w", item.PaperID, item.Location, err)}
		}
		if item.Text != "" {
			text = item.Text + "\n" + desc
		} else {
			text = desc
		}
	}
	if text == "" {
		return Result{Item: item, Err: fmt.Errorf("caption %s/%s: empty content", item.PaperID, item.Location)}
	}
	return Result{Item: item, Chunk: &core.Chunk{
		ID:        core.ChunkID(item.PaperID, item.Type, item.Location),
		PaperID:   item.PaperID,
		Type:      item.Type,
		Text:      text,
		PageFrom:  item.PageFrom,
		PageTo:    item.PageTo,
		ImagePath: item.ImagePath,
	}}
}

func visionHint(item Item) string {
	if item.Type == core.ContentTable {
		return "Describe this table: what is measured, the key rows and columns, and the standout numbers."
	}
	return "Describe this figure: what it shows, the axes or components, and the takeaway."
}

// embed batches the caption survivors through the embedding provider. An
// embedding failure degrades the batch to keyword-only chunks instead of
// killing the round.
func (p *Pool) embed(ctx context.Context, results []Result) {
	if p.embedder == nil {
		msg := "no embedding provider, chunks degrade to keyword search"
		log.Printf("[POOL] %s", msg)
		if p.Warn != nil {
			p.Warn(msg)
		}
		return
	}
	var pending []int
	for i := range results {
		if results[i].Err == nil && results[i].Chunk != nil {
			pending = append(pending, i)
		}
	}
	for start := 0; start < len(pending); start += p.batch {
		end := start + p.batch
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		texts := make([]string, len(batch))
		for j, idx := range batch {
			texts[j] = results[idx].Chunk.Text
		}
		vecs, err := p.embedder.EmbedTexts(ctx, texts)
		if err != nil || len(vecs) != len(batch) {
			msg := fmt.Sprintf("embedding batch of %d failed, chunks degrade to keyword search: %v", len(batch), err)
			log.Printf("[POOL] %s", msg)
			if p.Warn != nil {
				p.Warn(msg)
			}
			continue
		}
		for j, idx := range batch {
			results[idx].Chunk.Embedding = vecs[j]
		}
	}
}
