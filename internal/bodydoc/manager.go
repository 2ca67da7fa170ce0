package bodydoc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
)

// Loader replays a body document's persisted updates into doc on first
// access (spec §4.1/§4.3: "body docs are loaded lazily on first access").
// Satisfied by (*store.Store).LoadDocument.
type Loader interface {
	LoadDocument(ctx context.Context, docName string, doc crdt.Document) error
}

// Manager is the lifecycle-managed pool of body documents keyed by
// "body:<workspaceId>/<path>" (spec §4.3). Backed by a bounded LRU rather
// than an unbounded map (SPEC_FULL.md domain stack: github.com/hashicorp/
// golang-lru/v2) so a relay process serving many workspaces does not
// retain every body doc of every workspace forever; an evicted document is
// simply reloaded from the store on next access, so eviction is invisible
// to correctness.
type Manager struct {
	mu     sync.Mutex
	actor  crdt.ActorID
	cache  *lru.Cache[string, *Document]
	loader Loader
	onMiss OnUpdate // wired into every loaded doc's observer
	logger *slog.Logger
}

// DefaultPoolSize bounds the number of body docs retained in memory at
// once. Chosen generously for a single-process client (spec's "retained
// ... for the lifetime of the process" is the common case there); a relay
// serving many workspaces should size this from its own memory budget.
const DefaultPoolSize = 4096

// NewManager creates a Manager. loader is consulted on a cache miss;
// onUpdate is wired as every body doc's outgoing-update observer.
func NewManager(actor crdt.ActorID, poolSize int, loader Loader, onUpdate OnUpdate, logger *slog.Logger) (*Manager, error) {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	cache, err := lru.New[string, *Document](poolSize)
	if err != nil {
		return nil, fmt.Errorf("bodydoc: creating pool: %w", err)
	}
	return &Manager{actor: actor, cache: cache, loader: loader, onMiss: onUpdate, logger: logger}, nil
}

// Get returns the body document for name (e.g. "body:<wsID>/<path>"),
// loading it from the store on first access.
func (m *Manager) Get(ctx context.Context, name string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.cache.Get(name); ok {
		return d, nil
	}

	d := New(m.actor, name, m.onMiss)
	if m.loader != nil {
		if err := m.loader.LoadDocument(ctx, name, d.text); err != nil {
			return nil, fmt.Errorf("bodydoc: loading %s: %w", name, err)
		}
	}
	m.cache.Add(name, d)
	return d, nil
}

// Rename moves a body document from oldName to newName in the pool,
// updating its reported doc_name without recreating it (spec §4.6 legacy
// vs doc-ID move semantics consult this in the doc-ID case).
func (m *Manager) Rename(oldName, newName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.cache.Get(oldName)
	if !ok {
		return
	}
	m.cache.Remove(oldName)
	d.Rename(newName)
	m.cache.Add(newName, d)
}

// Drop evicts name from the pool without touching persisted state — used
// by legacy path-key mode moves, which must not let a stale body doc
// bleed into an unrelated new owner of the same path key (spec §4.6).
func (m *Manager) Drop(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(name)
}

// Len reports the number of body documents currently resident.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}
