package trigger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) handle(_ context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestSweepPicksUpImportableFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.csv", "a.xlsx", "notes.md", "data.tsv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.csv"), 0o755))

	rec := &recorder{}
	s := NewScheduler(dir, "*/10 * * * *", rec.handle, testLogger())
	s.Sweep(context.Background())

	assert.Equal(t, []string{
		filepath.Join(dir, "a.xlsx"),
		filepath.Join(dir, "b.csv"),
		filepath.Join(dir, "data.tsv"),
	}, rec.seen())
}

func TestSweepStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.csv", "b.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{}
	s := NewScheduler(dir, "*/10 * * * *", rec.handle, testLogger())
	s.Sweep(ctx)

	assert.Empty(t, rec.seen())
}

func TestSchedulerRejectsBadExpression(t *testing.T) {
	s := NewScheduler(t.TempDir(), "not a cron line", func(context.Context, string) {}, testLogger())
	assert.Error(t, s.Start())
}

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}

	w := NewWatcher(dir, rec.handle, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(dir, "upload.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.WriteString("id,name\n")
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	// Ignored extension never fires.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "upload.json"), []byte("{}"), 0o644))

	assert.Eventually(t, func() bool {
		return len(rec.seen()) == 1 && rec.seen()[0] == path
	}, 6*time.Second, 100*time.Millisecond)

	// And stays at one: the three writes collapsed into a single hand-off.
	time.Sleep(debounceWindow + 500*time.Millisecond)
	assert.Len(t, rec.seen(), 1)
}
