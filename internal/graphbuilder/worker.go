// Package graphbuilder drains graph-ingestion-queue into the external
// graph store (spec.md §4.9), the final stage of the pipeline. A batch is
// sent as one CommitNodes call per label and one CommitEdges call per
// relationship type. These calls are not one transaction: when a later
// call fails, the earlier ones stay applied, and every event in the
// batch is returned to the queue.
package graphbuilder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"github.com/cogtri/pipeline/internal/config"
	"github.com/cogtri/pipeline/internal/graphstore"
	"github.com/cogtri/pipeline/internal/metrics"
	"github.com/cogtri/pipeline/internal/model"
	"github.com/cogtri/pipeline/internal/queuemgr"
	"github.com/cogtri/pipeline/internal/store"
)

// Worker assembles batches of graph-ingestion-queue events and commits
// them to the graph store, marking their originating final
// relationships committed on success.
type Worker struct {
	st  *store.Client
	qm  *queuemgr.Manager
	gs  graphstore.Client
	cfg config.GraphConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(st *store.Client, qm *queuemgr.Manager, gs graphstore.Client, cfg config.GraphConfig) *Worker {
	return &Worker{st: st, qm: qm, gs: gs, cfg: cfg, stopCh: make(chan struct{})}
}

// Start begins the batch-drain loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the loop to exit and waits for the in-flight batch to
// finish committing.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		batch, err := w.claimBatch(ctx)
		if err != nil {
			slog.Error("claiming graph-ingestion batch failed", "error", err)
			continue
		}
		if len(batch) == 0 {
			w.idle()
			continue
		}

		if err := w.commitBatch(ctx, batch); err != nil {
			slog.Error("graph batch commit failed, returning batch to queue", "size", len(batch), "error", err)
			for _, job := range batch {
				if rerr := w.qm.Retry(ctx, job, err); rerr != nil {
					slog.Error("failed to requeue graph-ingestion job", "job_id", job.ID, "error", rerr)
				}
			}
			continue
		}
		for _, job := range batch {
			if aerr := w.qm.Ack(ctx, job); aerr != nil {
				slog.Error("failed to ack graph-ingestion job", "job_id", job.ID, "error", aerr)
			}
		}
	}
}

func (w *Worker) idle() {
	select {
	case <-w.stopCh:
	case <-time.After(100 * time.Millisecond):
	}
}

// claimBatch blocks for the first job, then drains further jobs
// non-blockingly up to cfg.BatchSize, matching spec.md §4.9's "batches
// (default 500 items per transaction)".
func (w *Worker) claimBatch(ctx context.Context) ([]*queuemgr.Job, error) {
	first, err := w.qm.Claim(ctx, queuemgr.QueueGraphIngest, 200*time.Millisecond)
	if err != nil {
		if errors.Is(err, queuemgr.ErrNoJob) {
			return nil, nil
		}
		return nil, err
	}
	batch := []*queuemgr.Job{first}
	for len(batch) < w.cfg.BatchSize {
		job, err := w.qm.ClaimNoWait(ctx, queuemgr.QueueGraphIngest)
		if errors.Is(err, queuemgr.ErrNoJob) {
			break
		}
		if err != nil {
			return batch, err
		}
		batch = append(batch, job)
	}
	return batch, nil
}

// commitBatch applies refactoring events (none in the current run-only
// model — an optional future upstream input, see DESIGN.md), then node
// events, then edge events, in that order (spec.md §4.9's node-before-edge
// ordering: edges MATCH their endpoints rather than MERGE them, so the
// nodes a batch's own edges reference must already exist).
func (w *Worker) commitBatch(ctx context.Context, jobs []*queuemgr.Job) error {
	nodesByLabel := map[string][]graphstore.NodeProperties{}
	edgesByType := map[string][]graphstore.EdgeProperties{}
	var committedRelHashesByRun = map[string][]string{}

	for _, job := range jobs {
		var evt model.GraphIngestEvent
		if err := json.Unmarshal(job.Payload, &evt); err != nil {
			return fmt.Errorf("decoding graph-ingestion event: %w", err)
		}
		switch evt.Kind {
		case model.GraphIngestNode:
			for _, n := range evt.Nodes {
				if err := validateLabel(n.Label); err != nil {
					return err
				}
				nodesByLabel[n.Label] = append(nodesByLabel[n.Label], graphstore.NodeProperties{
					QualifiedName: n.QualifiedName,
					Properties: map[string]any{
						"Name":      n.Name,
						"Signature": n.Signature,
						"StartLine": n.StartLine,
						"EndLine":   n.EndLine,
					},
				})
			}
		case model.GraphIngestEdge:
			if evt.Edge == nil {
				return fmt.Errorf("graph-ingestion edge event missing edge body")
			}
			if err := validateRelType(evt.Edge.Type); err != nil {
				return err
			}
			edgesByType[evt.Edge.Type] = append(edgesByType[evt.Edge.Type], graphstore.EdgeProperties{
				SourceQN:   evt.Edge.SourceQN,
				TargetQN:   evt.Edge.TargetQN,
				Properties: map[string]any{"Confidence": evt.Edge.Confidence},
			})
			if evt.RelHash != "" {
				committedRelHashesByRun[evt.RunID] = append(committedRelHashesByRun[evt.RunID], evt.RelHash)
			}
		default:
			return fmt.Errorf("unknown graph-ingestion event kind: %s", evt.Kind)
		}
	}

	for label, nodes := range nodesByLabel {
		if err := w.gs.CommitNodes(ctx, graphstore.NodeBatch{Label: label, Nodes: nodes}); err != nil {
			return fmt.Errorf("committing node batch (%s): %w", label, err)
		}
		metrics.GraphBatchesCommitted.WithLabelValues("node").Inc()
	}
	for relType, edges := range edgesByType {
		if err := w.gs.CommitEdges(ctx, graphstore.EdgeBatch{Type: relType, Edges: edges}); err != nil {
			return fmt.Errorf("committing edge batch (%s): %w", relType, err)
		}
		metrics.GraphBatchesCommitted.WithLabelValues("edge").Inc()
	}

	for runID, relHashes := range committedRelHashesByRun {
		if err := w.st.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
			return w.st.MarkCommitted(ctx, tx, runID, relHashes)
		}); err != nil {
			return fmt.Errorf("marking relationships committed: %w", err)
		}
	}
	return nil
}
