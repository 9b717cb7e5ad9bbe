package triangulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/cogtri/pipeline/internal/config"
	"github.com/cogtri/pipeline/internal/metrics"
	"github.com/cogtri/pipeline/internal/model"
	"github.com/cogtri/pipeline/internal/queuemgr"
	"github.com/cogtri/pipeline/internal/store"
)

// validationPayload matches the shape every upstream worker
// (internal/fileanalysis, internal/resolution) writes to the
// validation-queue (spec.md §4.3).
type validationPayload struct {
	RunID    string             `json:"run_id"`
	RelHash  string             `json:"rel_hash"`
	SourceQN string             `json:"source_qn"`
	TargetQN string             `json:"target_qn"`
	Type     string             `json:"type"`
	Evidence model.EvidenceItem `json:"evidence"`
}

// reconcilePayload is the reconciliation-queue body: just enough to
// look the sealed bundle back up (spec.md §4.3: "payload {rel-hash}").
type reconcilePayload struct {
	RunID   string `json:"run_id"`
	RelHash string `json:"rel_hash"`
}

// ValidationWorker consumes validation-queue events, accumulating
// evidence per relationship hash and sealing the bundle exactly once
// every expected pass has reported in (or the grace timeout elapses —
// see SealByGraceTimeout and RunGraceSweep) (spec.md §4.6).
type ValidationWorker struct {
	st  *store.Client
	qm  *queuemgr.Manager
	cfg config.TriangulationConfig
}

func NewValidationWorker(st *store.Client, qm *queuemgr.Manager, cfg config.TriangulationConfig) *ValidationWorker {
	return &ValidationWorker{st: st, qm: qm, cfg: cfg}
}

// expectedEvidenceCount is the number of passes configured to emit
// evidence for a candidate by default: deterministic, global, intra-dir,
// intra-file (spec.md §4.6: "minus any passes known to skip this run" —
// this run configuration does not skip any pass).
func expectedEvidenceCount() int {
	return len(model.AllPasses)
}

func (w *ValidationWorker) Process(ctx context.Context, raw []byte) error {
	var p validationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decoding validation payload: %w", err)
	}

	cand := model.RelationshipCandidate{
		RelHash:         p.RelHash,
		SourceQN:        p.SourceQN,
		TargetQN:        p.TargetQN,
		Type:            model.RelationshipType(p.Type),
		OriginatingPass: p.Evidence.Pass,
		RawConfidence:   p.Evidence.RawConfidence,
		Agrees:          p.Evidence.Agrees,
	}
	expected := expectedEvidenceCount()

	if err := w.st.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return w.st.AppendEvidence(ctx, tx, p.RunID, cand, expected)
	}); err != nil {
		return fmt.Errorf("appending evidence: %w", err)
	}

	sealed, err := w.qm.RecordEvidenceAndMaybeSeal(ctx, p.RunID, p.RelHash, expected)
	if err != nil {
		return fmt.Errorf("recording evidence seal: %w", err)
	}
	if !sealed {
		return nil
	}
	return w.seal(ctx, p.RunID, p.RelHash)
}

// SealByGraceTimeout is called by a periodic sweep (driven by
// cmd/pipeline) for bundles whose first-evidence timestamp is older than
// cfg.GraceTimeout but have not reached their expected count — the
// second half of spec.md §4.6's sealing rule.
func (w *ValidationWorker) SealByGraceTimeout(ctx context.Context, runID, relHash string) error {
	if err := w.qm.SealByGraceTimeout(ctx, runID, relHash); err != nil {
		if errors.Is(err, queuemgr.ErrAlreadySealed) {
			return nil
		}
		return fmt.Errorf("sealing by grace timeout: %w", err)
	}
	return w.seal(ctx, runID, relHash)
}

// RunGraceSweep periodically seals bundles whose grace timeout has
// elapsed without reaching their expected evidence count, until ctx is
// cancelled. Intended to run as a background goroutine in cmd/pipeline,
// one per process, alongside the validation-queue consumer.
func (w *ValidationWorker) RunGraceSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-w.cfg.GraceTimeout)
			bundles, err := w.st.UnsealedExpiredBundles(ctx, cutoff, 100)
			if err != nil {
				slog.Error("grace-timeout sweep failed to list bundles", "error", err)
				continue
			}
			for _, b := range bundles {
				if err := w.SealByGraceTimeout(ctx, b.RunID, b.RelHash); err != nil {
					slog.Error("grace-timeout seal failed", "run_id", b.RunID, "rel_hash", b.RelHash, "error", err)
				}
			}
		}
	}
}

func (w *ValidationWorker) seal(ctx context.Context, runID, relHash string) error {
	return w.st.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := w.st.MarkSealed(ctx, tx, runID, relHash); err != nil {
			return err
		}
		payload, err := json.Marshal(reconcilePayload{RunID: runID, RelHash: relHash})
		if err != nil {
			return fmt.Errorf("marshalling reconcile payload: %w", err)
		}
		return w.st.InsertOutboxEvent(ctx, tx, queuemgr.QueueReconciliation, string(payload))
	})
}

// ReconciliationWorker consumes reconciliation-queue events, folding a
// sealed evidence bundle into a final score via the pure Reconcile
// function and recording the verdict (spec.md §4.6).
type ReconciliationWorker struct {
	st     *store.Client
	params Params
}

func NewReconciliationWorker(st *store.Client, cfg config.TriangulationConfig) *ReconciliationWorker {
	weights := make(map[model.Pass]float64, len(cfg.PassWeights))
	for pass, w := range cfg.PassWeights {
		weights[model.Pass(pass)] = w
	}
	return &ReconciliationWorker{
		st: st,
		params: Params{
			PassWeights: weights,
			Boost:       cfg.AgreementBoost,
			Penalty:     cfg.DisagreementPenalty,
			Threshold:   cfg.Threshold,
		},
	}
}

// withMissingPassDisagreers returns items plus one synthesized
// Agrees:false entry for each pass in model.AllPasses that reported no
// evidence at all for this candidate. A pass expected to emit but
// silent on a sealed bundle (whether sealed by count or by grace
// timeout) is exactly the disagreer spec.md §4.6 defines: "items from
// passes that were expected to emit but did not."
func withMissingPassDisagreers(items []model.EvidenceItem) []model.EvidenceItem {
	reported := make(map[model.Pass]bool, len(items))
	for _, it := range items {
		reported[it.Pass] = true
	}
	out := items
	for _, pass := range model.AllPasses {
		if !reported[pass] {
			out = append(out, model.EvidenceItem{Pass: pass, Agrees: false})
		}
	}
	return out
}

func (w *ReconciliationWorker) Process(ctx context.Context, raw []byte) error {
	var p reconcilePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decoding reconcile payload: %w", err)
	}

	bundle, items, err := w.st.GetEvidenceBundle(ctx, p.RunID, p.RelHash)
	if errors.Is(err, store.ErrNotFound) {
		// Reconciliation already ran for this rel-hash and deleted the
		// bundle; the outbox is at-least-once, so a duplicate delivery
		// here is expected rather than a failure. No second graph edge
		// is emitted (spec.md §4.6).
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading evidence bundle: %w", err)
	}

	result := Reconcile(withMissingPassDisagreers(items), w.params)
	metrics.ReconciliationVerdicts.WithLabelValues(string(result.Verdict)).Inc()

	return w.st.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := w.st.UpsertFinalRelationship(ctx, tx, p.RunID, *bundle, result); err != nil {
			return err
		}
		if result.Verdict == VerdictValidated {
			payload, err := json.Marshal(model.GraphIngestEvent{
				Kind:    model.GraphIngestEdge,
				RunID:   p.RunID,
				RelHash: bundle.RelHash,
				Edge: &model.GraphEdgeRef{
					SourceQN:   bundle.SourceQN,
					TargetQN:   bundle.TargetQN,
					Type:       bundle.RelType,
					Confidence: result.FinalConfidence,
				},
			})
			if err != nil {
				return fmt.Errorf("marshalling graph-ingestion payload: %w", err)
			}
			if err := w.st.InsertOutboxEvent(ctx, tx, queuemgr.QueueGraphIngest, string(payload)); err != nil {
				return err
			}
		}
		return w.st.DeleteEvidenceBundle(ctx, tx, p.RunID, p.RelHash)
	})
}
