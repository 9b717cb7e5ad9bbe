package fileanalysis

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cogtri/pipeline/internal/config"
	"github.com/cogtri/pipeline/internal/store"
)

type fakeLLM struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeLLM) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := f.responses[f.calls%len(f.responses)]
	f.calls++
	return json.RawMessage(r), nil
}

func newTestStore(t *testing.T) *store.Client {
	t.Helper()
	c, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func setupRunAndFile(t *testing.T, st *store.Client, root, relPath, content string) (runID, fileID string) {
	t.Helper()
	ctx := context.Background()
	var err error
	runID, err = st.CreateRun(ctx, root)
	require.NoError(t, err)

	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))

	fileID, err = st.InsertFile(ctx, st.DB, runID, relPath, "hash")
	require.NoError(t, err)
	return runID, fileID
}

func TestProcess_HappyPath(t *testing.T) {
	root := t.TempDir()
	st := newTestStore(t)
	runID, fileID := setupRunAndFile(t, st, root, "pkg/a/one.go", "package a\nfunc Foo() {}\n")

	llm := &fakeLLM{responses: []string{`{
		"pois": [{"type":"Function","name":"Foo","qualified_name":"pkg/a/one.go--Foo","signature":"func Foo()","start_line":2,"end_line":2}],
		"relationships": [{"source_qn":"pkg/a/one.go--Foo","target_qn":"pkg/a/one.go--Bar","type":"CALLS","confidence":0.9,"explanation":"calls Bar"}]
	}`}}
	w := newWithCompleter(st, llm, config.FileConfig{MaxSizeBytes: 1 << 20}, config.LLMConfig{ContextBudgetTokens: 1000})

	err := w.Process(context.Background(), Payload{RunID: runID, FileID: fileID, FilePath: "pkg/a/one.go"})
	require.NoError(t, err)

	pois, err := st.POIsByFile(context.Background(), fileID)
	require.NoError(t, err)
	require.Len(t, pois, 1)
	require.Equal(t, "Foo", pois[0].Name)

	events, err := st.UnpublishedOutboxEvents(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, events, 3, "one graph node event, one validation event, and one directory-aggregation signal")

	file, err := st.GetFile(context.Background(), fileID)
	require.NoError(t, err)
	require.Equal(t, "completed", file.Status)
}

func TestProcess_PathTraversalIsQuarantinedNotRetried(t *testing.T) {
	root := t.TempDir()
	st := newTestStore(t)
	runID, fileID := setupRunAndFile(t, st, root, "pkg/a/one.go", "package a")

	w := newWithCompleter(st, &fakeLLM{}, config.FileConfig{MaxSizeBytes: 1 << 20}, config.LLMConfig{ContextBudgetTokens: 1000})
	err := w.Process(context.Background(), Payload{RunID: runID, FileID: fileID, FilePath: "../../etc/passwd"})
	require.NoError(t, err, "quarantined files return nil, not a retryable error")

	file, err := st.GetFile(context.Background(), fileID)
	require.NoError(t, err)
	require.Equal(t, "failed", file.Status)

	letters, err := st.DeadLettersByRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, letters, 1)
}

func TestProcess_OversizedFileIsQuarantined(t *testing.T) {
	root := t.TempDir()
	st := newTestStore(t)
	runID, fileID := setupRunAndFile(t, st, root, "big.go", "x")

	w := newWithCompleter(st, &fakeLLM{}, config.FileConfig{MaxSizeBytes: 0}, config.LLMConfig{ContextBudgetTokens: 1000})
	err := w.Process(context.Background(), Payload{RunID: runID, FileID: fileID, FilePath: "big.go"})
	require.NoError(t, err)

	file, err := st.GetFile(context.Background(), fileID)
	require.NoError(t, err)
	require.Equal(t, "failed", file.Status)
}

func TestProcess_LLMFailurePropagatesForQueueRetry(t *testing.T) {
	root := t.TempDir()
	st := newTestStore(t)
	runID, fileID := setupRunAndFile(t, st, root, "one.go", "package a")

	w := newWithCompleter(st, &fakeLLM{err: errBoom}, config.FileConfig{MaxSizeBytes: 1 << 20}, config.LLMConfig{ContextBudgetTokens: 1000})
	err := w.Process(context.Background(), Payload{RunID: runID, FileID: fileID, FilePath: "one.go"})
	require.Error(t, err, "llm failures must propagate so the queue retries the job")
}

type boomErr string

func (e boomErr) Error() string { return string(e) }

var errBoom = boomErr("llm unavailable")
