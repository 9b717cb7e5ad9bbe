package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

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

type recordingPublisher struct {
	mu        sync.Mutex
	published []string
	failTopic string
}

func (r *recordingPublisher) publish(_ context.Context, topic string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if topic == r.failTopic {
		return errors.New("boom")
	}
	r.published = append(r.published, topic)
	return nil
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

func testOutboxConfig() config.OutboxConfig {
	return config.OutboxConfig{PollInterval: 10 * time.Millisecond, BatchSize: 10}
}

func TestDrainOnce_PublishesAndMarksRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := st.InsertOutboxEvent(ctx, tx, queuemgr.QueueValidation, `{"a":1}`); err != nil {
			return err
		}
		return st.InsertOutboxEvent(ctx, tx, queuemgr.QueueReconciliation, `{"b":2}`)
	}))

	rec := &recordingPublisher{}
	p := New(st, rec.publish, testOutboxConfig())
	require.NoError(t, p.drainOnce(ctx))

	require.Equal(t, 2, rec.count())
	remaining, err := st.UnpublishedOutboxEvents(ctx, 100)
	require.NoError(t, err)
	require.Empty(t, remaining, "published rows must be stamped so they are not redelivered")
}

func TestDrainOnce_FailedPublishLeavesRowForNextTick(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return st.InsertOutboxEvent(ctx, tx, queuemgr.QueueGraphIngest, `{"c":3}`)
	}))

	rec := &recordingPublisher{failTopic: queuemgr.QueueGraphIngest}
	p := New(st, rec.publish, testOutboxConfig())
	require.NoError(t, p.drainOnce(ctx))

	remaining, err := st.UnpublishedOutboxEvents(ctx, 100)
	require.NoError(t, err)
	require.Len(t, remaining, 1, "a failed publish must not mark its row published")

	rec.failTopic = ""
	require.NoError(t, p.drainOnce(ctx))
	remaining, err = st.UnpublishedOutboxEvents(ctx, 100)
	require.NoError(t, err)
	require.Empty(t, remaining, "the row publishes successfully once the backend recovers")
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	st := newTestStore(t)
	rec := &recordingPublisher{}
	p := New(st, rec.publish, testOutboxConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
