package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/cogtri/pipeline/internal/model"
	"github.com/cogtri/pipeline/internal/triangulation"
)

// newTestClient opens an in-memory embedded store for one test, mirroring
// the bootstrap pattern used for the corpus's own sqlite-backed tests.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOpen_AppliesMigrations(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.Health(context.Background()))
}

func TestCreateRun_RoundTrips(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	id, err := c.CreateRun(ctx, "/src/project")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, err := c.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "/src/project", run.TargetRoot)
	require.Equal(t, string(model.RunActive), run.Status)
}

func TestGetRun_NotFound(t *testing.T) {
	c := newTestClient(t)
	_, err := c.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

// A file and its job are created in one transaction, matching how the
// producer builds the job tree (spec.md §4.2).
func TestInsertFileAndJob_SameTransaction(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	runID, err := c.CreateRun(ctx, "/src/project")
	require.NoError(t, err)

	var fileID, jobID string
	err = c.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		fileID, err = c.InsertFile(ctx, tx, runID, "a.go", "hash1")
		if err != nil {
			return err
		}
		job := NewJob(runID, JobKindFile, "", fileID, "")
		jobID = job.ID
		return c.InsertJob(ctx, tx, job)
	})
	require.NoError(t, err)

	file, err := c.GetFile(ctx, fileID)
	require.NoError(t, err)
	require.Equal(t, "a.go", file.Path)

	job, err := c.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, JobKindFile, job.Kind)
	require.Equal(t, JobStateWaiting, job.State)
}

// A parent only unblocks once its last child completes (invariant I5).
func TestCompleteChildAndMaybeUnblockParent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	runID, err := c.CreateRun(ctx, "/src/project")
	require.NoError(t, err)

	parent := NewJob(runID, JobKindDirectory, "/src", "", "")
	parent.State = JobStateWaitingChildren
	parent.PendingChildren = 2
	require.NoError(t, c.InsertJob(ctx, c.DB, parent))

	err = c.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		unblocked, err := c.CompleteChildAndMaybeUnblockParent(ctx, tx, parent.ID)
		require.NoError(t, err)
		require.False(t, unblocked, "parent still has one pending child")
		return nil
	})
	require.NoError(t, err)

	err = c.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		unblocked, err := c.CompleteChildAndMaybeUnblockParent(ctx, tx, parent.ID)
		require.NoError(t, err)
		require.True(t, unblocked, "last child completing must unblock the parent")
		return nil
	})
	require.NoError(t, err)

	got, err := c.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	require.Equal(t, JobStateWaiting, got.State)
}

func TestClaimWaitingJobs_AtomicAndExclusive(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	runID, err := c.CreateRun(ctx, "/src/project")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		job := NewJob(runID, JobKindFile, "", "", "")
		require.NoError(t, c.InsertJob(ctx, c.DB, job))
	}

	first, err := c.ClaimWaitingJobs(ctx, JobKindFile, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, j := range first {
		require.Equal(t, JobStateActive, j.State)
	}

	second, err := c.ClaimWaitingJobs(ctx, JobKindFile, 2)
	require.NoError(t, err)
	require.Len(t, second, 1, "already-claimed jobs must not be claimed twice")
}

// Evidence accumulates across calls and feeds directly into reconciliation.
func TestAppendEvidence_AccumulatesAndReconciles(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	runID, err := c.CreateRun(ctx, "/src/project")
	require.NoError(t, err)

	cand := model.RelationshipCandidate{
		RelHash:  "h1",
		SourceQN: "a.js--foo",
		TargetQN: "a.js--bar",
		Type:     model.RelCalls,
	}

	err = c.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		c1 := cand
		c1.OriginatingPass = model.PassDeterministic
		c1.RawConfidence = 1.0
		c1.Agrees = true
		if err := c.AppendEvidence(ctx, tx, runID, c1, 2); err != nil {
			return err
		}
		c2 := cand
		c2.OriginatingPass = model.PassIntraDir
		c2.RawConfidence = 0.8
		c2.Agrees = true
		return c.AppendEvidence(ctx, tx, runID, c2, 2)
	})
	require.NoError(t, err)

	err = c.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return c.MarkSealed(ctx, tx, runID, "h1")
	})
	require.NoError(t, err)

	bundle, items, err := c.GetEvidenceBundle(ctx, runID, "h1")
	require.NoError(t, err)
	require.True(t, bundle.Sealed)
	require.Len(t, items, 2)

	params := triangulation.Params{
		PassWeights: map[model.Pass]float64{model.PassDeterministic: 1.0, model.PassIntraDir: 0.6},
		Boost:       0.2,
		Penalty:     0.5,
		Threshold:   0.6,
	}
	result := triangulation.Reconcile(items, params)
	require.Equal(t, triangulation.VerdictValidated, result.Verdict)

	err = c.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return c.UpsertFinalRelationship(ctx, tx, runID, *bundle, result)
	})
	require.NoError(t, err)

	validated, err := c.ValidatedUncommittedRelationships(ctx, runID, 10)
	require.NoError(t, err)
	require.Len(t, validated, 1)
	require.Equal(t, "h1", validated[0].RelHash)
}

func TestOutboxEvent_PublishLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	err := c.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return c.InsertOutboxEvent(ctx, tx, "file.analyse", `{"file_id":"f1"}`)
	})
	require.NoError(t, err)

	pending, err := c.UnpublishedOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, c.MarkOutboxPublished(ctx, pending[0].ID))

	pending, err = c.UnpublishedOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestInsertDeadLetter_RecordsFailure(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	runID, err := c.CreateRun(ctx, "/src/project")
	require.NoError(t, err)

	cause := errors.New("llm call exhausted retries")
	require.NoError(t, c.InsertDeadLetter(ctx, runID, "file.analyse", "job-1", map[string]string{"file": "a.go"}, cause, "attempt=3"))

	letters, err := c.DeadLettersByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, cause.Error(), letters[0].ErrorMessage)
}
