package memory

import (
	"context"
	"time"
)

// Tier identifies the scope of a memory item.
type Tier string

const (
	TierUser    Tier = "user"
	TierSession Tier = "session"
	TierAgent   Tier = "agent"
)

// Item is one stored memory record. Items are read-only after creation; a
// later Put with the same tier and key supersedes the value.
type Item struct {
	ID              string    `json:"id"`
	Tier            Tier      `json:"tier"`
	Key             string    `json:"key"`
	Value           string    `json:"value"`
	CreatedAt       time.Time `json:"created_at"`
	SourceSessionID string    `json:"source_session_id,omitempty"`
}

// Hit is one search result with its relevance score and provenance tag.
type Hit struct {
	Item       Item
	Score      float64
	Provenance string
}

// Backend is the storage interface shared by the local journal and any
// external memory service. The scope argument carries the session id for
// session-tier operations and is empty otherwise.
type Backend interface {
	Put(ctx context.Context, item Item) error
	Get(ctx context.Context, tier Tier, scope, key string) (Item, bool, error)
	Search(ctx context.Context, tier Tier, scope, query string, k int) ([]Hit, error)
	Close() error
}
