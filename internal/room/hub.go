package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Factory builds a new Room for workspaceID on first access, along with a
// teardown func (closing the workspace's store, flushing caches) run when
// the room becomes idle.
type Factory func(ctx context.Context, workspaceID string) (room *Room, teardown func() error, err error)

type entry struct {
	room     *Room
	teardown func() error
}

// Hub creates rooms on demand and removes them once both their connection
// and guest counts reach zero (spec §4.9).
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]*entry
	factory Factory
	logger  *slog.Logger
}

// NewHub creates a Hub. factory is called at most once per workspace
// between idle periods.
func NewHub(factory Factory, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{rooms: map[string]*entry{}, factory: factory, logger: logger}
}

// GetOrCreate returns the room for workspaceID, creating it via the
// configured Factory if no room is currently live.
func (h *Hub) GetOrCreate(ctx context.Context, workspaceID string) (*Room, error) {
	h.mu.Lock()
	if e, ok := h.rooms[workspaceID]; ok {
		h.mu.Unlock()
		return e.room, nil
	}
	h.mu.Unlock()

	r, teardown, err := h.factory(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("room: creating room for %s: %w", workspaceID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.rooms[workspaceID]; ok {
		// Lost the race to a concurrent GetOrCreate; discard ours.
		if teardown != nil {
			teardown()
		}
		return e.room, nil
	}
	h.rooms[workspaceID] = &entry{room: r, teardown: teardown}
	return r, nil
}

// Leave removes clientID from workspaceID's room (if live) and tears the
// room down once it has no clients left.
func (h *Hub) Leave(ctx context.Context, workspaceID, clientID string) {
	h.mu.Lock()
	e, ok := h.rooms[workspaceID]
	h.mu.Unlock()
	if !ok {
		return
	}

	e.room.Leave(ctx, clientID)

	if e.room.ClientCount() > 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.rooms[workspaceID]; ok && cur == e {
		delete(h.rooms, workspaceID)
		if e.teardown != nil {
			if err := e.teardown(); err != nil {
				h.logger.Warn("room: tearing down idle room failed", "workspace", workspaceID, "error", err)
			}
		}
	}
}

// Len reports the number of currently live rooms.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
