package graphbuilder

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/cogtri/pipeline/internal/config"
	"github.com/cogtri/pipeline/internal/graphstore"
	"github.com/cogtri/pipeline/internal/model"
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

func TestCommitBatch_CommitsNodesAndEdges(t *testing.T) {
	st := newTestStore(t)
	qm := newTestQueue(t)
	gs := &graphstore.Fake{}
	w := New(st, qm, gs, config.GraphConfig{BatchSize: 500})
	ctx := context.Background()

	runID, err := st.CreateRun(ctx, "/repo")
	require.NoError(t, err)

	nodeEvt := model.GraphIngestEvent{
		Kind:  model.GraphIngestNode,
		RunID: runID,
		Nodes: []model.GraphNode{{QualifiedName: "pkg/a--Foo", Label: "Function", Name: "Foo"}},
	}
	edgeEvt := model.GraphIngestEvent{
		Kind:    model.GraphIngestEdge,
		RunID:   runID,
		RelHash: "h1",
		Edge:    &model.GraphEdgeRef{SourceQN: "pkg/a--Foo", TargetQN: "pkg/a--Bar", Type: "CALLS", Confidence: 0.9},
	}
	nodeRaw, _ := json.Marshal(nodeEvt)
	edgeRaw, _ := json.Marshal(edgeEvt)
	_, err = qm.Push(ctx, queuemgr.QueueGraphIngest, nodeRaw)
	require.NoError(t, err)
	_, err = qm.Push(ctx, queuemgr.QueueGraphIngest, edgeRaw)
	require.NoError(t, err)

	batch, err := w.claimBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	require.NoError(t, w.commitBatch(ctx, batch))
	require.Equal(t, 1, gs.NodeCount())
	require.Equal(t, 1, gs.EdgeCount())
}

func TestCommitBatch_RejectsDisallowedLabel(t *testing.T) {
	st := newTestStore(t)
	qm := newTestQueue(t)
	gs := &graphstore.Fake{}
	w := New(st, qm, gs, config.GraphConfig{BatchSize: 500})
	ctx := context.Background()

	evt := model.GraphIngestEvent{
		Kind:  model.GraphIngestNode,
		RunID: "run1",
		Nodes: []model.GraphNode{{QualifiedName: "x", Label: "DROP TABLE", Name: "x"}},
	}
	raw, _ := json.Marshal(evt)
	job := &queuemgr.Job{ID: "j1", Queue: queuemgr.QueueGraphIngest, Payload: raw}

	err := w.commitBatch(ctx, []*queuemgr.Job{job})
	require.Error(t, err)
	require.Equal(t, 0, gs.NodeCount())
}
