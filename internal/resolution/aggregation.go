package resolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/cogtri/pipeline/internal/queuemgr"
	"github.com/cogtri/pipeline/internal/store"
)

// AggregationWorker consumes the directory-aggregation queue (spec.md
// §4.5 "Aggregation"): one event per completed file-analyse job. It
// keeps the durable job tree in sync and, exactly once per directory,
// fires the directory-resolve job.
type AggregationWorker struct {
	st *store.Client
	qm *queuemgr.Manager
}

func NewAggregationWorker(st *store.Client, qm *queuemgr.Manager) *AggregationWorker {
	return &AggregationWorker{st: st, qm: qm}
}

// Process records one file's completion and, if it was this directory's
// last outstanding file, enqueues the directory-resolve job.
func (w *AggregationWorker) Process(ctx context.Context, raw []byte) error {
	var p directoryAggregatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decoding directory-aggregate payload: %w", err)
	}

	if err := w.st.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		fileJob, err := w.st.JobByFileID(ctx, p.CompletedFileID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("looking up file job: %w", err)
		}
		if err == nil {
			if err := w.st.SetJobState(ctx, tx, fileJob.ID, store.JobStateCompleted, nil); err != nil {
				return err
			}
		}

		dirJob, err := w.st.JobByDirPath(ctx, p.RunID, p.DirPath)
		if err != nil {
			return fmt.Errorf("looking up directory job: %w", err)
		}
		_, err = w.st.CompleteChildAndMaybeUnblockParent(ctx, tx, dirJob.ID)
		return err
	}); err != nil {
		return fmt.Errorf("recording file completion: %w", err)
	}

	// The SQL update above is durable bookkeeping; the Redis counter
	// below is the exactly-once trigger (spec.md §4.5's cache-based
	// counter). Both are seeded from the same file count, so they reach
	// zero together in the common case; if the cache ever loses state
	// between restarts, the SQL pending_children column remains the
	// recovery source of truth for an operator-driven resync.
	fired, err := w.qm.DecrementDirectoryCounter(ctx, p.RunID, p.DirPath)
	if err != nil {
		return fmt.Errorf("decrementing directory counter: %w", err)
	}
	if !fired {
		return nil
	}

	return w.st.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		dirJob, err := w.st.JobByDirPath(ctx, p.RunID, p.DirPath)
		if err != nil {
			return fmt.Errorf("looking up directory job: %w", err)
		}
		if err := w.st.SetJobState(ctx, tx, dirJob.ID, store.JobStateWaiting, nil); err != nil {
			return err
		}
		payload, err := json.Marshal(directoryResolvePayload{RunID: p.RunID, DirPath: p.DirPath})
		if err != nil {
			return fmt.Errorf("marshalling directory-resolve payload: %w", err)
		}
		return w.st.InsertOutboxEvent(ctx, tx, queuemgr.QueueDirectoryResolve, string(payload))
	})
}
