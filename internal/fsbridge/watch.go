package fsbridge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FsWatcher abstracts filesystem event monitoring. NewOSWatcher returns an
// implementation wrapping *fsnotify.Watcher. Grounded on the same seam the
// teacher's local sync observer uses to make fsnotify mockable.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (f *fsnotifyWrapper) Add(name string) error          { return f.w.Add(name) }
func (f *fsnotifyWrapper) Remove(name string) error        { return f.w.Remove(name) }
func (f *fsnotifyWrapper) Close() error                    { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event   { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error            { return f.w.Errors }

// NewOSWatcher wraps a freshly created *fsnotify.Watcher.
func NewOSWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &fsnotifyWrapper{w: w}, nil
}

// ToCanonicalPath converts a watcher's absolute event path to a
// workspace-canonical one relative to root.
func ToCanonicalPath(root, absPath string) (string, bool) {
	root = strings.TrimSuffix(root, "/")
	if !strings.HasPrefix(absPath, root+"/") {
		return "", false
	}
	return absPath[len(root)+1:], true
}

// Watch runs until ctx is cancelled, reading from watcher and driving
// WriteLocal/DeleteLocal for every create/write/remove event it reports
// under root. Rename events are reported by fsnotify as a Remove on the
// old name plus a Create on the new one on most platforms, so they are
// handled as delete+write rather than as a single MoveLocal call; a host
// wanting true rename semantics should call MoveLocal directly from its
// own UI/editor layer instead of relying on this loop.
func (b *Bridge) Watch(ctx context.Context, watcher FsWatcher, root string, readFile func(canonicalPath string) ([]byte, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events():
			if !ok {
				return
			}
			b.handleWatchEvent(ctx, root, ev, readFile)
		case err, ok := <-watcher.Errors():
			if !ok {
				return
			}
			b.logger.Warn("fsbridge: watcher error", "error", err)
		}
	}
}

func (b *Bridge) handleWatchEvent(ctx context.Context, root string, ev fsnotify.Event, readFile func(string) ([]byte, error)) {
	canonicalPath, ok := ToCanonicalPath(root, ev.Name)
	if !ok || IsTempFile(canonicalPath) {
		return
	}
	if b.markLocal(canonicalPath) {
		// The sync handler just wrote this path itself; the CRDT already
		// reflects it, so the watcher's echo of that write is dropped.
		return
	}
	defer b.clearLocal(canonicalPath)

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		content, err := readFile(canonicalPath)
		if err != nil {
			b.logger.Warn("fsbridge: reading changed file failed", "path", canonicalPath, "error", err)
			return
		}
		if err := b.applyLocalContent(ctx, canonicalPath, content); err != nil {
			b.logger.Warn("fsbridge: applying local change failed", "path", canonicalPath, "error", err)
		}

	case ev.Op&fsnotify.Remove != 0:
		if err := b.deleteLocalMetadataOnly(canonicalPath); err != nil {
			b.logger.Warn("fsbridge: applying local delete failed", "path", canonicalPath, "error", err)
		}
	}
}
