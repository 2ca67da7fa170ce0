package bodydoc

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
)

type fakeLoader struct {
	calls []string
}

func (f *fakeLoader) LoadDocument(ctx context.Context, docName string, doc crdt.Document) error {
	f.calls = append(f.calls, docName)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestManager_LazyLoadsOnFirstAccess(t *testing.T) {
	loader := &fakeLoader{}
	m, err := NewManager(1, 0, loader, nil, discardLogger())
	require.NoError(t, err)

	d1, err := m.Get(context.Background(), "body:ws1/index.md")
	require.NoError(t, err)
	require.NotNil(t, d1)
	require.Len(t, loader.calls, 1)

	d2, err := m.Get(context.Background(), "body:ws1/index.md")
	require.NoError(t, err)
	require.Same(t, d1, d2, "second Get must hit the pool, not reload")
	require.Len(t, loader.calls, 1)
}

func TestManager_Rename(t *testing.T) {
	loader := &fakeLoader{}
	m, err := NewManager(1, 0, loader, nil, discardLogger())
	require.NoError(t, err)

	d, err := m.Get(context.Background(), "body:ws1/old.md")
	require.NoError(t, err)

	m.Rename("body:ws1/old.md", "body:ws1/new.md")

	got, err := m.Get(context.Background(), "body:ws1/new.md")
	require.NoError(t, err)
	require.Same(t, d, got)
	require.Equal(t, "body:ws1/new.md", got.DocName())
	require.Equal(t, 1, m.Len())
}

func TestManager_Drop(t *testing.T) {
	loader := &fakeLoader{}
	m, err := NewManager(1, 0, loader, nil, discardLogger())
	require.NoError(t, err)

	_, err = m.Get(context.Background(), "body:ws1/a.md")
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	m.Drop("body:ws1/a.md")
	require.Equal(t, 0, m.Len())
	require.Len(t, loader.calls, 1)

	_, err = m.Get(context.Background(), "body:ws1/a.md")
	require.NoError(t, err)
	require.Len(t, loader.calls, 2, "dropped doc reloads from the store on next access")
}

func TestManager_EvictionBoundsPoolSize(t *testing.T) {
	loader := &fakeLoader{}
	m, err := NewManager(1, 2, loader, nil, discardLogger())
	require.NoError(t, err)

	_, err = m.Get(context.Background(), "body:ws1/a.md")
	require.NoError(t, err)
	_, err = m.Get(context.Background(), "body:ws1/b.md")
	require.NoError(t, err)
	_, err = m.Get(context.Background(), "body:ws1/c.md")
	require.NoError(t, err)

	require.Equal(t, 2, m.Len())
}
