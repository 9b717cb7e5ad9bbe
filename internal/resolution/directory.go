package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/uptrace/bun"

	"github.com/cogtri/pipeline/internal/chunker"
	"github.com/cogtri/pipeline/internal/config"
	"github.com/cogtri/pipeline/internal/model"
	"github.com/cogtri/pipeline/internal/queuemgr"
	"github.com/cogtri/pipeline/internal/store"
	"github.com/cogtri/pipeline/internal/triangulation"
)

// llmCompleter is the narrow LLM dependency both resolution workers
// need, mirroring internal/fileanalysis's own test seam.
type llmCompleter interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error)
}

// DirectoryResolutionWorker consumes the directory-resolution queue
// (spec.md §4.5 "Directory resolution"): it asks the LLM for
// relationships between different files within one directory and writes
// a directory summary consumed later by global resolution.
type DirectoryResolutionWorker struct {
	st     *store.Client
	qm     *queuemgr.Manager
	llm    llmCompleter
	llmCfg config.LLMConfig
}

func NewDirectoryResolutionWorker(st *store.Client, qm *queuemgr.Manager, llm llmCompleter, llmCfg config.LLMConfig) *DirectoryResolutionWorker {
	return &DirectoryResolutionWorker{st: st, qm: qm, llm: llm, llmCfg: llmCfg}
}

func (w *DirectoryResolutionWorker) Process(ctx context.Context, raw []byte) error {
	var p directoryResolvePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decoding directory-resolve payload: %w", err)
	}

	pois, err := w.st.POIsByDirectory(ctx, p.RunID, p.DirPath)
	if err != nil {
		return fmt.Errorf("loading directory pois: %w", err)
	}

	rels, summary, err := w.resolve(ctx, p.DirPath, pois)
	if err != nil {
		return fmt.Errorf("resolving directory %s: %w", p.DirPath, err)
	}

	return w.commit(ctx, p, rels, summary, len(pois))
}

func (w *DirectoryResolutionWorker) resolve(ctx context.Context, dirPath string, pois []store.POIRow) ([]relationshipDTO, string, error) {
	if len(pois) == 0 {
		return nil, "", nil
	}

	full := buildDirectoryPrompt(dirPath, pois)
	chunks := chunker.Split(full, w.llmCfg.ContextBudgetTokens)

	var rels []relationshipDTO
	var summaries []string
	for i, chunk := range chunks {
		raw, err := w.llm.CompleteJSON(ctx, directorySystemPrompt, chunk.Text)
		if err != nil {
			return nil, "", fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		var resp directoryResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, "", fmt.Errorf("chunk %d/%d: decoding response: %w", i+1, len(chunks), err)
		}
		kept := validTypes(resp.Relationships)
		if len(kept) != len(resp.Relationships) {
			slog.Warn("dropped relationship with unknown type", "dir", dirPath)
		}
		rels = append(rels, kept...)
		if resp.Summary != "" {
			summaries = append(summaries, resp.Summary)
		}
	}

	return rels, strings.Join(summaries, " "), nil
}

func (w *DirectoryResolutionWorker) commit(ctx context.Context, p directoryResolvePayload, rels []relationshipDTO, summary string, poiCount int) error {
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
					Pass:          model.PassIntraDir,
					RawConfidence: r.Confidence,
					Agrees:        true,
				},
			}
			raw, err := json.Marshal(vp)
			if err != nil {
				return fmt.Errorf("marshalling validation payload: %w", err)
			}
			if err := w.st.InsertOutboxEvent(ctx, tx, queuemgr.QueueValidation, string(raw)); err != nil {
				return err
			}
		}

		if err := w.st.UpsertDirectorySummary(ctx, tx, model.DirectorySummary{
			RunID:    p.RunID,
			DirPath:  p.DirPath,
			Summary:  summary,
			POICount: poiCount,
		}); err != nil {
			return fmt.Errorf("upserting directory summary: %w", err)
		}

		root, err := w.st.RootJobByRun(ctx, p.RunID)
		if err != nil {
			return fmt.Errorf("looking up root job: %w", err)
		}
		unblocked, err := w.st.CompleteChildAndMaybeUnblockParent(ctx, tx, root.ID)
		if err != nil {
			return fmt.Errorf("unblocking root job: %w", err)
		}
		if !unblocked {
			return nil
		}

		payload, err := json.Marshal(globalResolvePayload{RunID: p.RunID})
		if err != nil {
			return fmt.Errorf("marshalling global-resolve payload: %w", err)
		}
		return w.st.InsertOutboxEvent(ctx, tx, queuemgr.QueueGlobalResolve, string(payload))
	})
}
