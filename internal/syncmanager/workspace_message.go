package syncmanager

import (
	"context"
	"fmt"
	"sort"

	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
	"github.com/diaryx-dev/diaryx-sync/internal/wire"
	"github.com/diaryx-dev/diaryx-sync/internal/workspace"
)

// WorkspaceResult is the outcome of HandleWorkspaceMessage.
type WorkspaceResult struct {
	// Response is zero or more wire-framed messages to send back to the
	// peer that sent the incoming frame (e.g. a SyncStep2 reply to a
	// SyncStep1), already concatenated.
	Response []byte
	// ChangedPaths lists every canonical path whose metadata value
	// changed, deduplicated and filtered of metadata echoes.
	ChangedPaths []string
	// SyncComplete is true the first time a SyncStep2 is successfully
	// applied in this manager's lifetime (cleared by Reset).
	SyncComplete bool
}

// HandleWorkspaceMessage decodes and dispatches every sub-message in
// frame against the workspace document (spec §4.5 handle_workspace_message).
func (m *Manager) HandleWorkspaceMessage(frame []byte, writeToDisk bool) (WorkspaceResult, error) {
	messages, err := wire.Decode(frame)
	if err != nil {
		return WorkspaceResult{}, fmt.Errorf("syncmanager: decoding workspace frame: %w", err)
	}

	var responses [][]byte
	changedPathSet := map[string]struct{}{}
	var renames []workspace.Rename
	result := WorkspaceResult{}

	for _, msg := range messages {
		switch msg.Subtype {
		case wire.Step1:
			diff, err := m.ws.EncodeDiff(msg.Payload)
			if err != nil {
				m.logger.Warn("syncmanager: workspace diff against remote state vector failed", "error", err)
				continue
			}
			responses = append(responses, wire.EncodeStep2(diff), wire.EncodeStep1(m.ws.EncodeStateVector()))

		case wire.Step2, wire.Update:
			origin := crdt.OriginSync
			if msg.Subtype == wire.Update {
				origin = crdt.OriginRemote
			}

			applied, paths, rn, err := m.ws.ApplyUpdateTrackingChanges(msg.Payload, origin)
			if err != nil {
				m.logger.Warn("syncmanager: applying workspace update failed", "error", err)
				continue
			}

			m.mu.Lock()
			m.lastSyncedWorkspaceSV = m.ws.EncodeStateVector()
			m.mu.Unlock()

			if applied {
				for _, p := range paths {
					changedPathSet[p] = struct{}{}
				}
				renames = append(renames, rn...)

				if msg.Subtype == wire.Step2 {
					m.mu.Lock()
					if !m.syncCompleteSent {
						m.syncCompleteSent = true
						result.SyncComplete = true
					}
					m.mu.Unlock()
				}
			}
		}
	}

	m.applyRenameBookkeeping(renames)

	changedPaths := m.filterMetadataEchoes(changedPathSet)
	result.Response = wire.Concat(responses...)
	result.ChangedPaths = changedPaths

	if writeToDisk {
		m.writeChangesToDisk(changedPaths, renames)
	}

	return result, nil
}

// applyRenameBookkeeping moves echo-suppression and delta bookkeeping
// entries to follow a renamed path, and relocates the path's body doc in
// the manager pool (doc-ID mode: the identifier, and its body doc, survive
// a rename — spec §4.6).
func (m *Manager) applyRenameBookkeeping(renames []workspace.Rename) {
	if len(renames) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range renames {
		if v, ok := m.lastKnownContent[r.OldPath]; ok {
			m.lastKnownContent[r.NewPath] = v
			delete(m.lastKnownContent, r.OldPath)
		}
		if v, ok := m.lastKnownMetadata[r.OldPath]; ok {
			m.lastKnownMetadata[r.NewPath] = v
			delete(m.lastKnownMetadata, r.OldPath)
		}
		if v, ok := m.lastSentBodySV[r.OldPath]; ok {
			m.lastSentBodySV[r.NewPath] = v
			delete(m.lastSentBodySV, r.OldPath)
		}
		if v, ok := m.lastSyncedBodySVs[r.OldPath]; ok {
			m.lastSyncedBodySVs[r.NewPath] = v
			delete(m.lastSyncedBodySVs, r.OldPath)
		}
		m.bodies.Rename(bodyDocName(m.workspaceID, r.OldPath), bodyDocName(m.workspaceID, r.NewPath))
	}
}

// filterMetadataEchoes drops paths whose metadata is unchanged from
// lastKnownMetadata once modified_at is ignored, and records the new
// metadata for whatever remains (spec §4.5 "Deduplicates changed paths and
// filters metadata echoes").
func (m *Manager) filterMetadataEchoes(changed map[string]struct{}) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(changed))
	for path := range changed {
		docID, ok := m.ws.FindByPath(path)
		if !ok {
			out = append(out, path)
			continue
		}
		meta, ok := m.ws.GetFile(docID)
		if !ok {
			out = append(out, path)
			continue
		}

		if prior, ok := m.lastKnownMetadata[path]; ok && isContentEqualIgnoringModifiedAt(prior, meta) {
			continue
		}
		m.lastKnownMetadata[path] = meta
		out = append(out, path)
	}

	sort.Strings(out)
	return out
}

// writeChangesToDisk consults the sync handler to reconstitute every
// changed path's file (and move/delete as renames/tombstones demand),
// marking each target as a sync-write first so the filesystem decorator
// suppresses the resulting feedback update (spec §4.5, §4.6).
func (m *Manager) writeChangesToDisk(changedPaths []string, renames []workspace.Rename) {
	if m.handler == nil {
		return
	}

	for _, r := range renames {
		m.handler.MarkSyncWrite(r.OldPath)
		m.handler.MarkSyncWrite(r.NewPath)
		if err := m.handler.MoveFile(r.OldPath, r.NewPath); err != nil {
			m.logger.Warn("syncmanager: writing rename to disk failed", "old_path", r.OldPath, "new_path", r.NewPath, "error", err)
		}
	}

	renamedTo := map[string]bool{}
	for _, r := range renames {
		renamedTo[r.NewPath] = true
	}

	for _, path := range changedPaths {
		docID, ok := m.ws.FindByPath(path)
		if !ok {
			continue
		}
		meta, ok := m.ws.GetFile(docID)
		if !ok {
			continue
		}

		m.handler.MarkSyncWrite(path)

		if meta.Deleted {
			if err := m.handler.RemoveFile(path); err != nil {
				m.logger.Warn("syncmanager: removing tombstoned file from disk failed", "path", path, "error", err)
			}
			continue
		}

		if renamedTo[path] {
			// The move already repositioned the file; only body content,
			// not a fresh metadata write, is still owed.
			continue
		}

		body := ""
		if doc, err := m.bodies.Get(context.Background(), bodyDocName(m.workspaceID, path)); err == nil {
			body = doc.Body()
		}
		if err := m.handler.WriteFile(path, meta, body); err != nil {
			m.logger.Warn("syncmanager: writing file to disk failed", "path", path, "error", err)
		}
	}
}
