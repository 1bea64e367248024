package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/paper-translate/constants"
	"github.com/joseph-ayodele/paper-translate/internal/repository"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newStore(t *testing.T) *repository.FileStore {
	t.Helper()
	s, err := repository.NewFileStore(filepath.Join(t.TempDir(), "jobs.json"), repository.WithLogger(quiet()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeRecord(t *testing.T, dir, id string) string {
	t.Helper()
	path := filepath.Join(dir, id+".json")
	body := fmt.Sprintf(`{"id": %q, "title": "标题", "abstract": "摘要", "paragraphs": ["段落"]}`, id)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	writeRecord(t, root, "p1")
	writeRecord(t, root, "p2")
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.json"), []byte(`{"id": "broken"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden.json"), []byte("{}"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "nested"), 0o755))
	writeRecord(t, filepath.Join(root, "nested"), "p3")

	store := newStore(t)
	ing := NewFSIngestor(store, false, quiet())
	ctx := context.Background()

	results, stats, err := ing.IngestDirectory(ctx, root, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), stats.Scanned)
	assert.Equal(t, uint32(3), stats.Matched)
	assert.Equal(t, uint32(2), stats.Valid)
	assert.Equal(t, uint32(2), stats.Added)
	assert.Equal(t, uint32(1), stats.Failed)
	assert.Len(t, results, 3)

	jobs, err := store.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, constants.JobStatusPending, j.Status)
	}

	// second pass queues nothing new
	_, stats, err = ing.IngestDirectory(ctx, root, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), stats.Added)
	assert.Equal(t, uint32(2), stats.Skipped)
}

func TestIngestDirectory_MissingRoot(t *testing.T) {
	ing := NewFSIngestor(newStore(t), false, quiet())
	_, _, err := ing.IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "absent"), true)
	assert.Error(t, err)

	_, _, err = ing.IngestDirectory(context.Background(), " ", true)
	assert.Error(t, err)
}

func TestIngestPath(t *testing.T) {
	root := t.TempDir()
	store := newStore(t)
	ing := NewFSIngestor(store, false, quiet())
	ctx := context.Background()

	res, added, err := ing.IngestPath(ctx, writeRecord(t, root, "p1"))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, "p1", res.PaperID)

	_, added, err = ing.IngestPath(ctx, filepath.Join(root, "p1.json"))
	require.NoError(t, err)
	assert.False(t, added)

	_, _, err = ing.IngestPath(ctx, filepath.Join(root, "notes.txt"))
	assert.Error(t, err)
}

func TestIngestPath_ForceRequeues(t *testing.T) {
	root := t.TempDir()
	store := newStore(t)
	ctx := context.Background()
	path := writeRecord(t, root, "p1")

	_, _, err := NewFSIngestor(store, false, quiet()).IngestPath(ctx, path)
	require.NoError(t, err)
	_, err = store.ClaimJob(ctx, "w1", 3)
	require.NoError(t, err)
	require.NoError(t, store.CompleteJob(ctx, "p1", true))

	_, added, err := NewFSIngestor(store, true, quiet()).IngestPath(ctx, path)
	require.NoError(t, err)
	assert.True(t, added)

	job, err := store.GetJob(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsPaperFile("/harvest/chinaxiv-202401.00001.json"))
	assert.True(t, IsPaperFile("/harvest/P1.JSON"))
	assert.False(t, IsPaperFile("/harvest/.p1.json"))
	assert.False(t, IsPaperFile("/harvest/p1.json.123.tmp"))
	assert.Equal(t, "chinaxiv-202401.00001", PaperIDFromPath("/harvest/chinaxiv-202401.00001.json"))
}

func TestWatch_QueuesNewRecords(t *testing.T) {
	root := t.TempDir()
	writeRecord(t, root, "existing")
	store := newStore(t)
	ing := NewFSIngestor(store, false, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ing.Watch(ctx, WatchConfig{Root: root, InitialScan: true, Debounce: 50 * time.Millisecond})
	}()

	require.Eventually(t, func() bool {
		j, err := store.GetJob(context.Background(), "existing")
		return err == nil && j != nil
	}, 5*time.Second, 20*time.Millisecond)

	writeRecord(t, root, "fresh")
	require.Eventually(t, func() bool {
		j, err := store.GetJob(context.Background(), "fresh")
		return err == nil && j != nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestStartWatcher_NoRoot(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{}, quiet())
	assert.Error(t, err)
}
