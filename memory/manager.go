package memory

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Manager mediates all memory access for one session. Session-tier
// operations are scoped to the manager's session id automatically, so a
// session can never read another session's items.
//
// The error contract follows the two failure classes: Put propagates the
// backend error unchanged (a configured external backend must fail loudly
// rather than silently fall back), while Get and Search convert backend
// failures into an empty result and a recorded warning so a read failure
// never aborts the caller's round.
type Manager struct {
	backend   Backend
	sessionID string
	warn      func(string)
}

// NewManager creates a manager bound to a session. warn receives degradation
// messages and may be nil.
func NewManager(backend Backend, sessionID string, warn func(string)) *Manager {
	return &Manager{backend: backend, sessionID: sessionID, warn: warn}
}

// Put stores a value under a tier and key. Session-tier writes record this
// manager's session id as the item's source.
func (m *Manager) Put(ctx context.Context, tier Tier, key, value string) error {
	item := Item{
		ID:        uuid.New().String(),
		Tier:      tier,
		Key:       key,
		Value:     value,
		CreatedAt: time.Now().UTC(),
	}
	if tier == TierSession {
		item.SourceSessionID = m.sessionID
	}
	if err := m.backend.Put(ctx, item); err != nil {
		return fmt.Errorf("memory put %s/%s: %w", tier, key, err)
	}
	return nil
}

// Get returns the most recent value for an exact key, or false when absent.
// Backend failures degrade to a miss plus a warning.
func (m *Manager) Get(ctx context.Context, tier Tier, key string) (Item, bool) {
	item, ok, err := m.backend.Get(ctx, tier, m.scope(tier), key)
	if err != nil {
		m.degrade(fmt.Sprintf("memory_get_failed:%s:%s: %v", tier, key, err))
		return Item{}, false
	}
	return item, ok
}

// Search ranks this tier's items against the query. Backend failures degrade
// to an empty result plus a warning.
func (m *Manager) Search(ctx context.Context, tier Tier, query string, k int) []Hit {
	hits, err := m.backend.Search(ctx, tier, m.scope(tier), query, k)
	if err != nil {
		m.degrade(fmt.Sprintf("memory_search_failed:%s: %v", tier, err))
		return nil
	}
	return hits
}

func (m *Manager) scope(tier Tier) string {
	if tier == TierSession {
		return m.sessionID
	}
	return ""
}

func (m *Manager) degrade(msg string) {
	log.Printf("[MEMORY] %s", msg)
	if m.warn != nil {
		m.warn(msg)
	}
}
