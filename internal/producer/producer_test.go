package producer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/cogtri/pipeline/internal/config"
	"github.com/cogtri/pipeline/internal/queuemgr"
	"github.com/cogtri/pipeline/internal/store"
)

func newTestStore(t *testing.T) *store.Client {
	t.Helper()
	c, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newTestQueue(t *testing.T) *queuemgr.Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return queuemgr.New(rdb, config.QueueConfig{
		DefaultAttempts: 3,
		StalledInterval: 50 * time.Millisecond,
		LockDuration:    time.Minute,
		BackoffInitial:  10 * time.Millisecond,
	})
}

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a", "one.go"), []byte("package a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a", "two.go"), []byte("package a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "b", "three.go"), []byte("package b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "b", "three_test.go"), []byte("package b"), 0o644))
	return root
}

func TestRun_BuildsJobTree(t *testing.T) {
	st := newTestStore(t)
	qm := newTestQueue(t)
	root := writeTree(t)
	ctx := context.Background()

	runID, err := Run(ctx, st, qm, config.RunConfig{
		TargetRoot:      root,
		IncludePatterns: []string{"**/*.go"},
		ExcludePatterns: []string{"**/*_test.go"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	files, err := st.FilesByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, files, 3, "three non-test .go files should be discovered")

	pending, err := st.UnpublishedOutboxEvents(ctx, 100)
	require.NoError(t, err)
	require.Len(t, pending, 3, "one outbox event per file job")
}

func TestRun_EmptyTargetFails(t *testing.T) {
	st := newTestStore(t)
	qm := newTestQueue(t)
	root := t.TempDir()
	_, err := Run(context.Background(), st, qm, config.RunConfig{
		TargetRoot:      root,
		IncludePatterns: []string{"**/*.go"},
	})
	require.ErrorIs(t, err, ErrEmptyTarget)
}
