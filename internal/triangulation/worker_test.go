package triangulation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/cogtri/pipeline/internal/config"
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

func testTriangulationConfig() config.TriangulationConfig {
	return config.TriangulationConfig{
		AgreementBoost:      0.2,
		DisagreementPenalty: 0.5,
		Threshold:           0.6,
		PassWeights: map[string]float64{
			"deterministic": 1.0,
			"global":        0.7,
			"intra-dir":     0.6,
			"intra-file":    0.5,
		},
		GraceTimeout: 2 * time.Minute,
	}
}

func TestValidationWorker_SealsOnlyOnExpectedCount(t *testing.T) {
	st := newTestStore(t)
	qm := newTestQueue(t)
	w := NewValidationWorker(st, qm, testTriangulationConfig())
	ctx := context.Background()

	runID, err := st.CreateRun(ctx, "/repo")
	require.NoError(t, err)

	passes := []model.Pass{model.PassDeterministic, model.PassGlobal, model.PassIntraDir}
	for i, pass := range passes {
		payload, _ := json.Marshal(validationPayload{
			RunID: runID, RelHash: "h1", SourceQN: "a", TargetQN: "b", Type: "CALLS",
			Evidence: model.EvidenceItem{Pass: pass, RawConfidence: 0.9, Agrees: true},
		})
		require.NoError(t, w.Process(ctx, payload))

		events, err := st.UnpublishedOutboxEvents(ctx, 100)
		require.NoError(t, err)
		if i < len(passes)-1 {
			require.Empty(t, events, "must not seal before every configured pass reports in")
		}
	}

	// One pass (intra-file) never arrives, so count stays below the
	// expected 4; the bundle must still be unsealed after only 3.
	events, err := st.UnpublishedOutboxEvents(ctx, 100)
	require.NoError(t, err)
	require.Empty(t, events)

	last, _ := json.Marshal(validationPayload{
		RunID: runID, RelHash: "h1", SourceQN: "a", TargetQN: "b", Type: "CALLS",
		Evidence: model.EvidenceItem{Pass: model.PassIntraFile, RawConfidence: 0.8, Agrees: true},
	})
	require.NoError(t, w.Process(ctx, last))

	events, err = st.UnpublishedOutboxEvents(ctx, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, queuemgr.QueueReconciliation, events[0].Topic)

	bundle, _, err := st.GetEvidenceBundle(ctx, runID, "h1")
	require.NoError(t, err)
	require.True(t, bundle.Sealed)
}

func TestValidationWorker_GraceTimeoutSealsOnce(t *testing.T) {
	st := newTestStore(t)
	qm := newTestQueue(t)
	w := NewValidationWorker(st, qm, testTriangulationConfig())
	ctx := context.Background()

	runID, err := st.CreateRun(ctx, "/repo")
	require.NoError(t, err)
	payload, _ := json.Marshal(validationPayload{
		RunID: runID, RelHash: "h2", SourceQN: "a", TargetQN: "b", Type: "CALLS",
		Evidence: model.EvidenceItem{Pass: model.PassIntraFile, RawConfidence: 0.7, Agrees: true},
	})
	require.NoError(t, w.Process(ctx, payload))

	require.NoError(t, w.SealByGraceTimeout(ctx, runID, "h2"))
	events, err := st.UnpublishedOutboxEvents(ctx, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, w.SealByGraceTimeout(ctx, runID, "h2"), "a second grace-timeout seal attempt is a no-op, not an error")
	events, err = st.UnpublishedOutboxEvents(ctx, 100)
	require.NoError(t, err)
	require.Len(t, events, 1, "must not enqueue reconciliation twice")
}

func TestReconciliationWorker_ValidatedEmitsGraphEvent(t *testing.T) {
	st := newTestStore(t)
	w := NewReconciliationWorker(st, testTriangulationConfig())
	ctx := context.Background()

	runID, err := st.CreateRun(ctx, "/repo")
	require.NoError(t, err)
	// Every pass agrees, so no disagreer is synthesized for a missing
	// pass and the weighted mean alone clears the threshold.
	for _, pass := range model.AllPasses {
		cand := model.RelationshipCandidate{
			RelHash: "h3", SourceQN: "a", TargetQN: "b", Type: model.RelCalls,
			OriginatingPass: pass, RawConfidence: 0.95, Agrees: true,
		}
		require.NoError(t, st.AppendEvidence(ctx, st.DB, runID, cand, len(model.AllPasses)))
	}
	require.NoError(t, st.MarkSealed(ctx, st.DB, runID, "h3"))

	payload, _ := json.Marshal(reconcilePayload{RunID: runID, RelHash: "h3"})
	require.NoError(t, w.Process(ctx, payload))

	events, err := st.UnpublishedOutboxEvents(ctx, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, queuemgr.QueueGraphIngest, events[0].Topic)

	_, _, err = st.GetEvidenceBundle(ctx, runID, "h3")
	require.ErrorIs(t, err, store.ErrNotFound, "bundle row must be deleted after reconciliation")
}

// A duplicate reconciliation delivery (outbox is at-least-once) after the
// bundle has already been deleted must be a clean no-op, not a retried
// failure.
func TestReconciliationWorker_MissingBundleIsNoOp(t *testing.T) {
	st := newTestStore(t)
	w := NewReconciliationWorker(st, testTriangulationConfig())
	ctx := context.Background()

	runID, err := st.CreateRun(ctx, "/repo")
	require.NoError(t, err)

	payload, _ := json.Marshal(reconcilePayload{RunID: runID, RelHash: "does-not-exist"})
	require.NoError(t, w.Process(ctx, payload))

	events, err := st.UnpublishedOutboxEvents(ctx, 100)
	require.NoError(t, err)
	require.Empty(t, events)
}

// A relationship seen only by one pass, with every other expected pass
// absent from the sealed bundle, is penalized by a synthesized disagreer
// per missing pass and rejected even though its raw confidence alone
// would have validated.
func TestReconciliationWorker_MissingPassesAreSynthesizedAsDisagreers(t *testing.T) {
	st := newTestStore(t)
	w := NewReconciliationWorker(st, testTriangulationConfig())
	ctx := context.Background()

	runID, err := st.CreateRun(ctx, "/repo")
	require.NoError(t, err)
	cand := model.RelationshipCandidate{
		RelHash: "h5", SourceQN: "a", TargetQN: "b", Type: model.RelCalls,
		OriginatingPass: model.PassIntraFile, RawConfidence: 0.7, Agrees: true,
	}
	require.NoError(t, st.AppendEvidence(ctx, st.DB, runID, cand, len(model.AllPasses)))
	require.NoError(t, st.MarkSealed(ctx, st.DB, runID, "h5"))

	payload, _ := json.Marshal(reconcilePayload{RunID: runID, RelHash: "h5"})
	require.NoError(t, w.Process(ctx, payload))

	events, err := st.UnpublishedOutboxEvents(ctx, 100)
	require.NoError(t, err)
	require.Empty(t, events, "single-pass evidence penalized by three missing passes must not validate")
}

func TestReconciliationWorker_RejectedSkipsGraphEvent(t *testing.T) {
	st := newTestStore(t)
	w := NewReconciliationWorker(st, testTriangulationConfig())
	ctx := context.Background()

	runID, err := st.CreateRun(ctx, "/repo")
	require.NoError(t, err)
	cand := model.RelationshipCandidate{
		RelHash: "h4", SourceQN: "a", TargetQN: "b", Type: model.RelCalls,
		OriginatingPass: model.PassIntraFile, RawConfidence: 0.1, Agrees: true,
	}
	require.NoError(t, st.AppendEvidence(ctx, st.DB, runID, cand, 1))
	require.NoError(t, st.MarkSealed(ctx, st.DB, runID, "h4"))

	payload, _ := json.Marshal(reconcilePayload{RunID: runID, RelHash: "h4"})
	require.NoError(t, w.Process(ctx, payload))

	events, err := st.UnpublishedOutboxEvents(ctx, 100)
	require.NoError(t, err)
	require.Empty(t, events, "a rejected verdict must not reach the graph-ingestion queue")
}
