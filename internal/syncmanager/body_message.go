package syncmanager

import (
	"context"
	"fmt"

	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
	"github.com/diaryx-dev/diaryx-sync/internal/wire"
)

// BodyResult is the outcome of HandleBodyMessage.
type BodyResult struct {
	// Response is the wire-framed reply, if any (e.g. a SyncStep2 answer
	// to a SyncStep1).
	Response []byte
	// Content holds the post-apply body text when this was a genuine
	// remote edit (nil for an echo or a no-op message).
	Content *string
	// IsEcho is true when the post-apply body matches what this manager
	// already believed the content to be, i.e. the update merely
	// reflects our own prior write coming back around.
	IsEcho bool
}

// HandleBodyMessage decodes and dispatches every sub-message in frame
// against path's body document (spec §4.5 handle_body_message).
func (m *Manager) HandleBodyMessage(ctx context.Context, path string, frame []byte, writeToDisk bool) (BodyResult, error) {
	doc, err := m.bodies.Get(ctx, bodyDocName(m.workspaceID, path))
	if err != nil {
		return BodyResult{}, fmt.Errorf("syncmanager: loading body doc for %s: %w", path, err)
	}

	messages, err := wire.Decode(frame)
	if err != nil {
		return BodyResult{}, fmt.Errorf("syncmanager: decoding body frame for %s: %w", path, err)
	}

	before := doc.Body()
	var responses [][]byte

	for _, msg := range messages {
		switch msg.Subtype {
		case wire.Step1:
			diff, err := doc.EncodeDiff(msg.Payload)
			if err != nil {
				m.logger.Warn("syncmanager: body diff against remote state vector failed", "path", path, "error", err)
				continue
			}
			if len(diff) > crdt.EmptyUpdateSentinelLen {
				responses = append(responses, wire.EncodeStep2(diff))
			}

		case wire.Step2:
			if _, err := doc.ApplyUpdate(msg.Payload, crdt.OriginRemote); err != nil {
				m.logger.Warn("syncmanager: applying body sync-step2 failed", "path", path, "error", err)
				continue
			}
			m.mu.Lock()
			m.lastSyncedBodySVs[path] = doc.EncodeStateVector()
			m.mu.Unlock()

		case wire.Update:
			if _, err := doc.ApplyUpdate(msg.Payload, crdt.OriginRemote); err != nil {
				m.logger.Warn("syncmanager: applying body update failed", "path", path, "error", err)
				continue
			}
		}
	}

	after := doc.Body()

	m.mu.Lock()
	m.lastSentBodySV[path] = doc.EncodeStateVector()
	m.mu.Unlock()

	result := BodyResult{Response: wire.Concat(responses...)}

	if after == before {
		return result, nil
	}

	m.mu.Lock()
	known, hasKnown := m.lastKnownContent[path]
	m.mu.Unlock()

	if hasKnown && known == after {
		result.IsEcho = true
		return result, nil
	}

	m.mu.Lock()
	m.lastKnownContent[path] = after
	m.mu.Unlock()

	content := after
	result.Content = &content

	if writeToDisk && m.handler != nil {
		if docID, ok := m.ws.FindByPath(path); ok {
			if meta, ok := m.ws.GetFile(docID); ok {
				m.handler.MarkSyncWrite(path)
				if err := m.handler.WriteFile(path, meta, after); err != nil {
					m.logger.Warn("syncmanager: writing synced body to disk failed", "path", path, "error", err)
				}
			}
		}
	}

	m.emit(ContentsChanged{Path: path, NewBody: after})
	return result, nil
}
