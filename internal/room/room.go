// Package room implements the relay's per-workspace sync room (spec
// §4.9): the server-side counterpart to internal/syncmanager, holding one
// shared workspace document and body document pool that every connected
// client/guest synchronizes against, gated by a handshake state machine
// and guarded against reflective update loops.
package room

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/diaryx-dev/diaryx-sync/internal/bodydoc"
	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
	"github.com/diaryx-dev/diaryx-sync/internal/store"
	"github.com/diaryx-dev/diaryx-sync/internal/wire"
	"github.com/diaryx-dev/diaryx-sync/internal/workspace"
)

// FileIndex is the subset of *store.Store the room consults to keep the
// file_index projection in step with workspace mutations (spec §4.1: "this
// index is maintained by snapshot import and by server-side room
// operations, and is consulted when generating the file manifest"). nil is
// valid — a room without a FileIndex falls back to building the manifest
// straight off the in-memory workspace document.
type FileIndex interface {
	UpsertFileIndex(ctx context.Context, e store.FileIndexEntry) error
	ListFileIndex(ctx context.Context) ([]store.FileIndexEntry, error)
}

// gateState is a connected client's position in the handshake (spec
// §4.9's client_init_states).
type gateState int

const (
	stateAwaitingManifest gateState = iota
	stateAwaitingFilesReady
	stateSynchronized
)

// lastResponsesSize bounds the loop-detection cache at 100 entries per
// room (spec §4.9).
const lastResponsesSize = 100

type client struct {
	id      string
	userID  string
	conn    Conn
	state   gateState
	isGuest bool
	focus   map[string]struct{}
	// syncCompleteSent is set once this client's first SyncStep2 against the
	// workspace document has been applied, so sync_complete fires exactly
	// once per session (spec §4.9).
	syncCompleteSent bool
	filesSynced      int
}

// Room holds the shared CRDT state for one workspace and every client
// currently subscribed to it. Created on demand and torn down once both
// its connection and guest counts reach zero (managed by Hub).
type Room struct {
	mu            sync.Mutex
	workspaceID   string
	ws            *workspace.Document
	bodies        *bodydoc.Manager
	index         FileIndex
	clients       map[string]*client
	lastResponses *lru.Cache[string, []byte]
	session       *ShareSession
	logger        *slog.Logger
	now           func() int64
}

// New creates a Room backed by ws/bodies, which the caller has already
// wired to persistence (internal/store) via their OnUpdate observers.
// index may be nil, in which case the room skips file_index maintenance
// and builds manifests directly from ws.
func New(workspaceID string, ws *workspace.Document, bodies *bodydoc.Manager, index FileIndex, now func() int64, logger *slog.Logger) (*Room, error) {
	cache, err := lru.New[string, []byte](lastResponsesSize)
	if err != nil {
		return nil, fmt.Errorf("room: creating loop-detection cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Room{
		workspaceID:   workspaceID,
		ws:            ws,
		bodies:        bodies,
		index:         index,
		clients:       map[string]*client{},
		lastResponses: cache,
		logger:        logger,
		now:           now,
	}, nil
}

// WorkspaceID reports the workspace this room serves.
func (r *Room) WorkspaceID() string { return r.workspaceID }

// ClientCount reports the number of currently joined clients (connections
// plus guests), used by Hub to decide when a room is idle.
func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Join admits a new client and drives it through the handshake: an empty
// workspace synchronizes immediately (spec §4.9 "clients whose workspace
// is empty may receive immediate sync and never enter gated states"),
// otherwise the client is sent a FileManifest and gated until it reports
// FilesReady.
func (r *Room) Join(ctx context.Context, clientID, userID string, conn Conn, isGuest bool) error {
	r.mu.Lock()
	c := &client{id: clientID, userID: userID, conn: conn, isGuest: isGuest, focus: map[string]struct{}{}}
	r.clients[clientID] = c

	empty := r.ws.FileCount() == 0
	if empty {
		c.state = stateSynchronized
	} else {
		c.state = stateAwaitingFilesReady
	}
	peerCount := len(r.clients)
	r.mu.Unlock()

	if empty {
		if err := r.sendCrdtState(ctx, c); err != nil {
			return err
		}
	} else {
		if err := r.sendManifest(ctx, c); err != nil {
			return err
		}
	}

	r.broadcastControl(ctx, clientID, wire.NewPeerJoined(clientID, peerCount))
	return nil
}

// Leave removes a client from the room, e.g. on connection close.
func (r *Room) Leave(ctx context.Context, clientID string) {
	r.mu.Lock()
	_, ok := r.clients[clientID]
	if ok {
		delete(r.clients, clientID)
	}
	peerCount := len(r.clients)
	r.mu.Unlock()

	if ok {
		r.broadcastControl(ctx, clientID, wire.NewPeerLeft(clientID, peerCount))
	}
}

func (r *Room) sendManifest(ctx context.Context, c *client) error {
	entries := r.buildManifestEntries(ctx)
	return r.sendControl(ctx, c, wire.NewFileManifest(entries, false))
}

// buildManifestEntries consults file_index when a FileIndex is wired (spec
// §4.1: the index "is consulted when generating the file manifest"),
// falling back to the in-memory workspace document otherwise (tests, or a
// room run without persistence).
func (r *Room) buildManifestEntries(ctx context.Context) []wire.ManifestEntry {
	if r.index != nil {
		rows, err := r.index.ListFileIndex(ctx)
		if err != nil {
			r.logger.Warn("room: listing file_index for manifest failed, falling back to workspace document", "error", err)
		} else {
			entries := make([]wire.ManifestEntry, 0, len(rows))
			for _, row := range rows {
				if row.DocID == "" {
					continue // tombstone row left behind by a rename, superseded by the new path's row
				}
				entry := wire.ManifestEntry{DocID: row.DocID, Filename: path.Base(row.Path), Deleted: row.Deleted}
				if row.Title != "" {
					t := row.Title
					entry.Title = &t
				}
				if row.PartOf != "" {
					p := row.PartOf
					entry.PartOf = &p
				}
				entries = append(entries, entry)
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].DocID < entries[j].DocID })
			return entries
		}
	}

	entries := make([]wire.ManifestEntry, 0, r.ws.FileCount())
	for _, meta := range r.ws.ListFiles() {
		p, _ := r.ws.CanonicalPathFor(meta.DocID)
		entry := wire.ManifestEntry{DocID: meta.DocID, Filename: meta.Filename, Deleted: meta.Deleted}
		if meta.Title != "" {
			t := meta.Title
			entry.Title = &t
		}
		if p != "" && meta.PartOf != "" {
			if parentPath, ok := r.ws.CanonicalPathFor(meta.PartOf); ok {
				entry.PartOf = &parentPath
			}
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].DocID < entries[j].DocID })
	return entries
}

// syncFileIndex projects a workspace update's effects into file_index
// (spec §4.1: "maintained by ... server-side room operations"). A rename
// leaves a tombstone row at the old path (path_index entries are never
// deleted, only superseded — see DESIGN.md) and a fresh row at the new
// path; every other changed path gets its current metadata upserted.
func (r *Room) syncFileIndex(ctx context.Context, changedPaths []string, renames []workspace.Rename) {
	if r.index == nil {
		return
	}

	for _, rn := range renames {
		if err := r.index.UpsertFileIndex(ctx, store.FileIndexEntry{Path: rn.OldPath, Deleted: true, ModifiedAt: r.now()}); err != nil {
			r.logger.Warn("room: tombstoning renamed-away file_index path failed", "path", rn.OldPath, "error", err)
		}
	}

	for _, p := range changedPaths {
		docID, ok := r.ws.FindByPath(p)
		if !ok {
			continue
		}
		meta, ok := r.ws.GetFile(docID)
		if !ok {
			continue
		}
		entry := store.FileIndexEntry{Path: p, DocID: docID, Title: meta.Title, Deleted: meta.Deleted, ModifiedAt: meta.ModifiedAt}
		if meta.PartOf != "" {
			if parentPath, ok := r.ws.CanonicalPathFor(meta.PartOf); ok {
				entry.PartOf = parentPath
			}
		}
		if err := r.index.UpsertFileIndex(ctx, entry); err != nil {
			r.logger.Warn("room: updating file_index failed", "path", p, "error", err)
		}
	}
}

func (r *Room) sendCrdtState(ctx context.Context, c *client) error {
	state := base64.StdEncoding.EncodeToString(r.ws.EncodeStateAsUpdate())
	return r.sendControl(ctx, c, wire.NewCrdtState(state))
}

// HandleControl decodes and dispatches a client-originated JSON control
// message (spec §4.9: FilesReady completes the handshake; Focus/Unfocus
// update the room's aggregate focus list).
func (r *Room) HandleControl(ctx context.Context, clientID string, raw []byte) error {
	msg, err := wire.DecodeControl(raw)
	if err != nil {
		return fmt.Errorf("room: decoding control message: %w", err)
	}

	switch m := msg.(type) {
	case *wire.FilesReady:
		r.mu.Lock()
		c, ok := r.clients[clientID]
		if ok && c.state == stateAwaitingFilesReady {
			c.state = stateSynchronized
		}
		r.mu.Unlock()
		if !ok {
			return nil
		}
		return r.sendCrdtState(ctx, r.clientByID(clientID))

	case *wire.Focus:
		r.setFocus(clientID, m.Path, true)
		r.broadcastFocusListChanged(ctx)

	case *wire.Unfocus:
		r.setFocus(clientID, m.Path, false)
		r.broadcastFocusListChanged(ctx)
	}

	return nil
}

func (r *Room) clientByID(clientID string) *client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[clientID]
}

func (r *Room) setFocus(clientID, path string, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return
	}
	if on {
		c.focus[path] = struct{}{}
	} else {
		delete(c.focus, path)
	}
}

func (r *Room) broadcastFocusListChanged(ctx context.Context) {
	r.mu.Lock()
	set := map[string]struct{}{}
	for _, c := range r.clients {
		for p := range c.focus {
			set[p] = struct{}{}
		}
	}
	files := make([]string, 0, len(set))
	for p := range set {
		files = append(files, p)
	}
	sort.Strings(files)
	r.mu.Unlock()

	r.broadcastControl(ctx, "", wire.NewFocusListChanged(files))
}

// HandleBinary applies an incoming sync frame from clientID to the
// shared CRDT state and, when it produces real changes, broadcasts the
// result to every other synchronized client (spec §4.9: "per-message
// handling mirrors §4.5 but broadcasts accepted updates to all other
// subscribers"). Frames from a client still in the handshake gate, or
// from a read-only share-session guest, are dropped silently.
func (r *Room) HandleBinary(ctx context.Context, clientID string, frame []byte) error {
	c := r.clientByID(clientID)
	if c == nil {
		return fmt.Errorf("room: unknown client %q", clientID)
	}
	if c.state != stateSynchronized {
		return nil
	}
	if r.session != nil && r.session.ReadOnly && clientID != r.session.OwnerID {
		return nil
	}

	path, inner, err := wire.UnwrapBody(frame)
	if err != nil {
		return fmt.Errorf("room: unwrapping frame: %w", err)
	}

	if path == "" {
		return r.handleWorkspaceFrame(ctx, c, inner)
	}
	return r.handleBodyFrame(ctx, c, path, inner)
}

func (r *Room) handleWorkspaceFrame(ctx context.Context, c *client, inner []byte) error {
	messages, err := wire.Decode(inner)
	if err != nil {
		return fmt.Errorf("room: decoding workspace frame: %w", err)
	}

	var responses [][]byte
	for _, msg := range messages {
		switch msg.Subtype {
		case wire.Step1:
			diff, err := r.ws.EncodeDiff(msg.Payload)
			if err != nil {
				r.logger.Warn("room: workspace diff against remote state vector failed", "error", err)
				continue
			}
			key := hashKey("ws-step1", msg.Payload)
			if r.isDuplicateResponse(key, diff) {
				continue
			}
			responses = append(responses, wire.EncodeStep2(diff))

		case wire.Step2, wire.Update:
			origin := crdt.OriginSync
			if msg.Subtype == wire.Update {
				origin = crdt.OriginRemote
			}
			applied, changedPaths, renames, err := r.ws.ApplyUpdateTrackingChanges(msg.Payload, origin)
			if err != nil {
				r.logger.Warn("room: applying workspace update failed", "error", err)
				continue
			}
			if !applied {
				continue
			}
			r.syncFileIndex(ctx, changedPaths, renames)

			if msg.Subtype == wire.Step2 {
				r.mu.Lock()
				first := !c.syncCompleteSent
				c.syncCompleteSent = true
				c.filesSynced = r.ws.FileCount()
				r.mu.Unlock()
				if first {
					r.sendControl(ctx, c, wire.NewSyncComplete(r.ws.FileCount()))
				}
			}

			r.broadcastBinaryExcept(ctx, c.id, wire.WrapBody("", wire.EncodeUpdate(msg.Payload)))
		}
	}

	if len(responses) > 0 {
		r.sendBinary(ctx, c, wire.WrapBody("", wire.Concat(responses...)))
	}
	return nil
}

func (r *Room) handleBodyFrame(ctx context.Context, c *client, path string, inner []byte) error {
	doc, err := r.bodies.Get(ctx, bodyDocName(r.workspaceID, path))
	if err != nil {
		return fmt.Errorf("room: loading body doc for %s: %w", path, err)
	}

	messages, err := wire.Decode(inner)
	if err != nil {
		return fmt.Errorf("room: decoding body frame for %s: %w", path, err)
	}

	var responses [][]byte
	for _, msg := range messages {
		switch msg.Subtype {
		case wire.Step1:
			diff, err := doc.EncodeDiff(msg.Payload)
			if err != nil {
				r.logger.Warn("room: body diff against remote state vector failed", "path", path, "error", err)
				continue
			}
			if len(diff) <= crdt.EmptyUpdateSentinelLen {
				continue
			}
			key := hashKey("body-step1:"+path, msg.Payload)
			if r.isDuplicateResponse(key, diff) {
				continue
			}
			responses = append(responses, wire.EncodeStep2(diff))

		case wire.Step2, wire.Update:
			if _, err := doc.ApplyUpdate(msg.Payload, crdt.OriginRemote); err != nil {
				r.logger.Warn("room: applying body update failed", "path", path, "error", err)
				continue
			}
			r.broadcastBinaryExcept(ctx, c.id, wire.WrapBody(path, wire.EncodeUpdate(msg.Payload)))
		}
	}

	if len(responses) > 0 {
		r.sendBinary(ctx, c, wire.WrapBody(path, wire.Concat(responses...)))
	}
	return nil
}

// isDuplicateResponse reports whether response is identical to the last
// response this room sent for key, recording response as the new last
// value either way (spec §4.9: "hashes the incoming payload; if the
// response bytes match a prior response to the same hash, it drops the
// message to break reflective loops").
func (r *Room) isDuplicateResponse(key string, response []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.lastResponses.Get(key); ok && string(prior) == string(response) {
		return true
	}
	r.lastResponses.Add(key, response)
	return false
}

func hashKey(prefix string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return prefix + ":" + hex.EncodeToString(sum[:8])
}

func (r *Room) sendBinary(ctx context.Context, c *client, data []byte) {
	if err := c.conn.Send(ctx, KindBinary, data); err != nil {
		r.logger.Warn("room: sending binary frame failed", "client", c.id, "error", err)
	}
}

func (r *Room) sendControl(ctx context.Context, c *client, v any) error {
	data, err := encodeControl(v)
	if err != nil {
		return err
	}
	if err := c.conn.Send(ctx, KindText, data); err != nil {
		r.logger.Warn("room: sending control message failed", "client", c.id, "error", err)
	}
	return nil
}

// broadcastBinaryExcept sends data to every synchronized client other
// than exceptID.
func (r *Room) broadcastBinaryExcept(ctx context.Context, exceptID string, data []byte) {
	r.mu.Lock()
	targets := make([]*client, 0, len(r.clients))
	for id, c := range r.clients {
		if id == exceptID || c.state != stateSynchronized {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		r.sendBinary(ctx, c, data)
	}
}

// broadcastControl sends a control message to every client except
// exceptID (pass "" to include everyone).
func (r *Room) broadcastControl(ctx context.Context, exceptID string, v any) {
	data, err := encodeControl(v)
	if err != nil {
		r.logger.Warn("room: encoding control broadcast failed", "error", err)
		return
	}

	r.mu.Lock()
	targets := make([]*client, 0, len(r.clients))
	for id, c := range r.clients {
		if id == exceptID {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		if err := c.conn.Send(ctx, KindText, data); err != nil {
			r.logger.Warn("room: broadcasting control message failed", "client", c.id, "error", err)
		}
	}
}

func bodyDocName(workspaceID, path string) string {
	return "body:" + workspaceID + "/" + path
}
