// Package fileanalysis implements the per-file worker (spec.md §4.4):
// read, chunk, call the LLM for POIs and intra-file relationships, then
// commit POIs and outbox events in one transaction.
package fileanalysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/cogtri/pipeline/internal/chunker"
	"github.com/cogtri/pipeline/internal/config"
	"github.com/cogtri/pipeline/internal/llmclient"
	"github.com/cogtri/pipeline/internal/model"
	"github.com/cogtri/pipeline/internal/queuemgr"
	"github.com/cogtri/pipeline/internal/store"
	"github.com/cogtri/pipeline/internal/triangulation"
)

// Payload is the file-analyse job body (spec.md §4.3).
type Payload struct {
	RunID    string `json:"run_id"`
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

// directoryAggregatePayload signals the directory-aggregation counter
// (spec.md §4.3's directory-aggregation-queue).
type directoryAggregatePayload struct {
	RunID           string `json:"run_id"`
	DirPath         string `json:"dir_path"`
	CompletedFileID string `json:"completed_file_id"`
}

// validationPayload carries one piece of evidence toward a relationship
// candidate's bundle (spec.md §4.6).
type validationPayload struct {
	RunID    string             `json:"run_id"`
	RelHash  string             `json:"rel_hash"`
	SourceQN string             `json:"source_qn"`
	TargetQN string             `json:"target_qn"`
	Type     string             `json:"type"`
	Evidence model.EvidenceItem `json:"evidence"`
}

// llmCompleter is the subset of *llmclient.Client the worker needs,
// narrowed to an interface so tests can substitute a fake model without
// a network-backed client.
type llmCompleter interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error)
}

// Worker processes file-analyse jobs.
type Worker struct {
	st      *store.Client
	llm     llmCompleter
	fileCfg config.FileConfig
	llmCfg  config.LLMConfig
}

func New(st *store.Client, llm *llmclient.Client, fileCfg config.FileConfig, llmCfg config.LLMConfig) *Worker {
	return &Worker{st: st, llm: llm, fileCfg: fileCfg, llmCfg: llmCfg}
}

// newWithCompleter is the test seam, accepting any llmCompleter.
func newWithCompleter(st *store.Client, llm llmCompleter, fileCfg config.FileConfig, llmCfg config.LLMConfig) *Worker {
	return &Worker{st: st, llm: llm, fileCfg: fileCfg, llmCfg: llmCfg}
}

// Process runs the full contract for one file-analyse job. A non-nil
// error means the job should be retried at the queue level; quarantined
// files (too large, path traversal) return nil — they are terminal, not
// transient, failures.
func (w *Worker) Process(ctx context.Context, payload Payload) error {
	run, err := w.st.GetRun(ctx, payload.RunID)
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}

	absPath, err := resolveGuardedPath(run.TargetRoot, payload.FilePath)
	if err != nil {
		_ = w.st.SetFileStatus(ctx, w.st.DB, payload.FileID, model.FileStatusFailed, err)
		_ = w.st.InsertDeadLetter(ctx, payload.RunID, queuemgr.QueueFileAnalyse, payload.FileID, payload, err, "path-traversal guard")
		slog.Warn("rejecting file outside target root", "run_id", payload.RunID, "path", payload.FilePath)
		return nil
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("statting file: %w", err)
	}
	if info.Size() > w.fileCfg.MaxSizeBytes {
		cause := fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size())
		_ = w.st.SetFileStatus(ctx, w.st.DB, payload.FileID, model.FileStatusFailed, cause)
		_ = w.st.InsertDeadLetter(ctx, payload.RunID, queuemgr.QueueFileAnalyse, payload.FileID, payload, cause, "size guard")
		slog.Warn("skipping oversized file", "run_id", payload.RunID, "path", payload.FilePath, "size", info.Size())
		return nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	pois, rels, err := w.analyse(ctx, payload.FilePath, string(content))
	if err != nil {
		return fmt.Errorf("analysing %s: %w", payload.FilePath, err)
	}
	detRels := detectDeterministicCalls(pois, string(content))

	dirPath := filepath.ToSlash(filepath.Dir(payload.FilePath))
	return w.commit(ctx, payload, dirPath, pois, rels, detRels)
}

// resolveGuardedPath joins targetRoot and relPath and verifies the
// result stays rooted inside targetRoot (spec.md §4.4 step 3).
func resolveGuardedPath(targetRoot, relPath string) (string, error) {
	root := filepath.Clean(targetRoot)
	joined := filepath.Clean(filepath.Join(root, relPath))
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, relPath)
	}
	return joined, nil
}

// analyse chunks content to fit the context budget, calls the LLM once
// per chunk, and merges the results, deduplicating POIs by qualified
// name (spec.md §4.4 steps 4-6).
func (w *Worker) analyse(ctx context.Context, filePath, content string) ([]poiDTO, []relationshipDTO, error) {
	chunks := chunker.Split(content, w.llmCfg.ContextBudgetTokens)

	seenPOI := make(map[string]poiDTO)
	var rels []relationshipDTO

	for i, chunk := range chunks {
		raw, err := w.llm.CompleteJSON(ctx, systemPrompt, buildUserPrompt(filePath, chunk.Text))
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		parsed, err := parseChunkResponse(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		for _, p := range parsed.POIs {
			seenPOI[p.QualifiedName] = p
		}
		rels = append(rels, parsed.Relationships...)
	}

	pois := make([]poiDTO, 0, len(seenPOI))
	for _, p := range seenPOI {
		pois = append(pois, p)
	}
	return pois, rels, nil
}

// commit writes POIs and outbox events for this file's evidence inside
// one transaction (spec.md §4.4 steps 7-9; I3). rels are the LLM's
// intra-file relationships; detRels are the deterministic pass's
// syntactic call candidates (spec.md §2) — the two are tagged with
// different originating passes so validation/reconciliation can tell
// them apart.
func (w *Worker) commit(ctx context.Context, payload Payload, dirPath string, pois []poiDTO, rels, detRels []relationshipDTO) error {
	return w.st.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		modelPOIs := make([]model.POI, len(pois))
		for i, p := range pois {
			modelPOIs[i] = model.POI{
				ID:            uuid.NewString(),
				FileID:        payload.FileID,
				RunID:         payload.RunID,
				Type:          model.POIType(p.Type),
				Name:          p.Name,
				QualifiedName: p.QualifiedName,
				Signature:     p.Signature,
				StartLine:     p.StartLine,
				EndLine:       p.EndLine,
			}
		}
		if err := w.st.InsertPOIs(ctx, tx, modelPOIs); err != nil {
			return err
		}

		if len(modelPOIs) > 0 {
			nodes := make([]model.GraphNode, len(modelPOIs))
			for i, p := range modelPOIs {
				nodes[i] = model.GraphNode{
					QualifiedName: p.QualifiedName,
					Label:         string(p.Type),
					Name:          p.Name,
					Signature:     p.Signature,
					StartLine:     p.StartLine,
					EndLine:       p.EndLine,
				}
			}
			nodePayload, err := json.Marshal(model.GraphIngestEvent{
				Kind:  model.GraphIngestNode,
				RunID: payload.RunID,
				Nodes: nodes,
			})
			if err != nil {
				return fmt.Errorf("marshalling graph node payload: %w", err)
			}
			if err := w.st.InsertOutboxEvent(ctx, tx, queuemgr.QueueGraphIngest, string(nodePayload)); err != nil {
				return err
			}
		}

		for _, r := range rels {
			relHash := triangulation.RelHash(r.SourceQN, r.TargetQN, model.RelationshipType(r.Type))
			vp := validationPayload{
				RunID:    payload.RunID,
				RelHash:  relHash,
				SourceQN: r.SourceQN,
				TargetQN: r.TargetQN,
				Type:     r.Type,
				Evidence: model.EvidenceItem{
					Pass:          model.PassIntraFile,
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

		for _, r := range detRels {
			relHash := triangulation.RelHash(r.SourceQN, r.TargetQN, model.RelationshipType(r.Type))
			vp := validationPayload{
				RunID:    payload.RunID,
				RelHash:  relHash,
				SourceQN: r.SourceQN,
				TargetQN: r.TargetQN,
				Type:     r.Type,
				Evidence: model.EvidenceItem{
					Pass:          model.PassDeterministic,
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

		aggPayload, err := json.Marshal(directoryAggregatePayload{
			RunID:           payload.RunID,
			DirPath:         dirPath,
			CompletedFileID: payload.FileID,
		})
		if err != nil {
			return fmt.Errorf("marshalling aggregate payload: %w", err)
		}
		if err := w.st.InsertOutboxEvent(ctx, tx, queuemgr.QueueDirectoryAggregate, string(aggPayload)); err != nil {
			return err
		}

		return w.st.SetFileStatus(ctx, tx, payload.FileID, model.FileStatusCompleted, nil)
	})
}
