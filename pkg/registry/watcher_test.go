package registry

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	reg, err := LoadFile(path)
	require.NoError(t, err)

	reloaded := make(chan error, 4)
	w, err := NewWatcher(reg, 50*time.Millisecond, func(err error) {
		reloaded <- err
	})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Watch(ctx))

	replacement := `
models:
  - id: openai/fresh
    provider: openai
    quality: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(replacement), 0o644))

	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reload")
	}

	_, ok := reg.Get("openai/fresh")
	require.True(t, ok)
}

func TestWatcher_ReportsReloadError(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	reg, err := LoadFile(path)
	require.NoError(t, err)

	reloaded := make(chan error, 4)
	w, err := NewWatcher(reg, 50*time.Millisecond, func(err error) {
		reloaded <- err
	})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("models: ["), 0o644))

	select {
	case err := <-reloaded:
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reload error")
	}

	// Previous catalog stays intact.
	require.Equal(t, 3, reg.Len())
}
