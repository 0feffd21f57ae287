package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/netprefs/prefs"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestCheckDetectsReplacement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	writeFile(t, path, "a: 1\n")

	w, err := New(path)
	require.NoError(t, err)

	changed, _, err := w.Check()
	require.NoError(t, err)
	require.False(t, changed)

	writeFile(t, path, "a: 1\nb: 2\n")
	changed, sig, err := w.Check()
	require.NoError(t, err)
	require.True(t, changed)
	require.True(t, sig.Exists)

	changed, _, err = w.Check()
	require.NoError(t, err)
	require.False(t, changed)
}

func TestCheckTracksCreationAndRemoval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	w, err := New(path)
	require.NoError(t, err)

	writeFile(t, path, "a: 1\n")
	changed, sig, err := w.Check()
	require.NoError(t, err)
	require.True(t, changed)
	require.True(t, sig.Exists)

	require.NoError(t, os.Remove(path))
	changed, sig, err = w.Check()
	require.NoError(t, err)
	require.True(t, changed)
	require.False(t, sig.Exists)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New("")
	require.Error(t, err)

	var w *Watcher
	changed, _, err := w.Check()
	require.NoError(t, err)
	require.False(t, changed)
}

func TestRunReportsCommittedChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	w, err := New(path, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan prefs.Signature, 4)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(sig prefs.Signature) { changes <- sig })
	}()

	store, err := prefs.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.SetValue("Model", "test"))

	deadline := time.After(5 * time.Second)
	for {
		// commit until the watcher has registered its directory watch
		require.NoError(t, store.SetValue("Generation", time.Now().UnixNano()))
		require.NoError(t, store.Commit())
		select {
		case sig := <-changes:
			require.True(t, sig.Exists)
			cancel()
			require.NoError(t, <-done)
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("no change reported")
		}
	}
}
