package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/cogtri/pipeline/internal/chunker"
	"github.com/cogtri/pipeline/internal/config"
	"github.com/cogtri/pipeline/internal/model"
	"github.com/cogtri/pipeline/internal/queuemgr"
	"github.com/cogtri/pipeline/internal/store"
	"github.com/cogtri/pipeline/internal/triangulation"
)

// GlobalResolutionWorker consumes the global-resolution queue (spec.md
// §4.5 "Global resolution"), triggered once the root job unblocks: every
// directory has been resolved. It reads directory summaries, not raw
// POIs, to keep the final pass's prompt small regardless of run size.
type GlobalResolutionWorker struct {
	st     *store.Client
	llm    llmCompleter
	llmCfg config.LLMConfig
}

func NewGlobalResolutionWorker(st *store.Client, llm llmCompleter, llmCfg config.LLMConfig) *GlobalResolutionWorker {
	return &GlobalResolutionWorker{st: st, llm: llm, llmCfg: llmCfg}
}

func (w *GlobalResolutionWorker) Process(ctx context.Context, raw []byte) error {
	var p globalResolvePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decoding global-resolve payload: %w", err)
	}

	summaries, err := w.st.DirectorySummariesByRun(ctx, p.RunID)
	if err != nil {
		return fmt.Errorf("loading directory summaries: %w", err)
	}
	if len(summaries) == 0 {
		return nil
	}

	full := buildGlobalPrompt(summaries)
	chunks := chunker.Split(full, w.llmCfg.ContextBudgetTokens)

	var rels []relationshipDTO
	for i, chunk := range chunks {
		raw, err := w.llm.CompleteJSON(ctx, globalSystemPrompt, chunk.Text)
		if err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		var resp globalResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("chunk %d/%d: decoding response: %w", i+1, len(chunks), err)
		}
		kept := validTypes(resp.Relationships)
		if len(kept) != len(resp.Relationships) {
			slog.Warn("dropped relationship with unknown type", "run_id", p.RunID)
		}
		rels = append(rels, kept...)
	}

	return w.st.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		for _, r := range rels {
			relHash := triangulation.RelHash(r.SourceQN, r.TargetQN, model.RelationshipType(r.Type))
			vp := validationPayload{
				RunID:    p.RunID,
				RelHash:  relHash,
				SourceQN: r.SourceQN,
				TargetQN: r.TargetQN,
				Type:     r.Type,
				Evidence: model.EvidenceItem{
					Pass:          model.PassGlobal,
					RawConfidence: r.Confidence,
					Agrees:        true,
				},
			}
			payload, err := json.Marshal(vp)
			if err != nil {
				return fmt.Errorf("marshalling validation payload: %w", err)
			}
			if err := w.st.InsertOutboxEvent(ctx, tx, queuemgr.QueueValidation, string(payload)); err != nil {
				return err
			}
		}
		// Global resolution is the last synchronous stage of the job tree;
		// everything past this point (triangulation, graph commit) runs off
		// the durable queues rather than the job DAG, so this is where a run
		// stops being "in progress" from the job tree's point of view.
		return w.st.SetRunStatus(ctx, tx, p.RunID, model.RunCompleted)
	})
}
