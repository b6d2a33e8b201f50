// Package journal implements the durable local memory backend: an
// append-only JSONL journal with an in-memory index rebuilt on load.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ZiangHu97/paper-sailor/core"
	"github.com/ZiangHu97/paper-sailor/memory"
)

type indexKey struct {
	tier  memory.Tier
	scope string
	key   string
}

// Backend appends every write to a journal file and serves reads from an
// in-memory index where the latest record per (tier, scope, key) wins.
// Writers are serialized: the agent tier is shared by concurrent sessions,
// so every write takes the lock and holds the file handle only for the
// duration of that one append.
type Backend struct {
	mu    sync.RWMutex
	path  string
	index map[indexKey]memory.Item
}

// Open loads (or creates) the journal at path and rebuilds the index by
// replaying it.
func Open(path string) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	b := &Backend{path: path, index: make(map[indexKey]memory.Item)}
	if err := b.replay(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) replay() error {
	f, err := os.Open(b.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var item memory.Item
		if err := json.Unmarshal(line, &item); err != nil {
			// A torn final line from a crashed writer is skipped, not fatal.
			continue
		}
		b.index[keyOf(item)] = item
	}
	return scanner.Err()
}

func keyOf(item memory.Item) indexKey {
	scope := ""
	if item.Tier == memory.TierSession {
		scope = item.SourceSessionID
	}
	return indexKey{tier: item.Tier, scope: scope, key: item.Key}
}

// Put appends one record. The file handle is acquired for this write only
// and released on every path out.
func (b *Backend) Put(ctx context.Context, item memory.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	b.index[keyOf(item)] = item
	return nil
}

// Get returns the latest value for the exact key within the tier and scope.
func (b *Backend) Get(ctx context.Context, tier memory.Tier, scope, key string) (memory.Item, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	item, ok := b.index[indexKey{tier: tier, scope: scope, key: key}]
	return item, ok, nil
}

// Search ranks the tier's items by lexical overlap with the query, most
// relevant and most recent first. The local backend never fails due to
// connectivity, so the degraded path here is simply an empty result.
func (b *Backend) Search(ctx context.Context, tier memory.Tier, scope, query string, k int) ([]memory.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var hits []memory.Hit
	for ik, item := range b.index {
		if ik.tier != tier {
			continue
		}
		if tier == memory.TierSession && ik.scope != scope {
			continue
		}
		score := core.LexicalOverlap(query, item.Key+" "+item.Value)
		if score <= 0 {
			continue
		}
		hits = append(hits, memory.Hit{Item: item, Score: score, Provenance: "keyword"})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].Item.CreatedAt.Equal(hits[j].Item.CreatedAt) {
			return hits[i].Item.CreatedAt.After(hits[j].Item.CreatedAt)
		}
		return hits[i].Item.Key < hits[j].Item.Key
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Close is a no-op: the journal holds no long-lived handle.
func (b *Backend) Close() error { return nil }
