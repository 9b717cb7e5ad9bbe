// Package producer builds the hierarchical job tree for one run
// (spec.md §4.2): a root global-resolve job, one directory-resolve job
// per non-empty directory, and one file-analyse job per discovered
// file, wired parent-before-child so no child can race its parent's
// wait count.
package producer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/uptrace/bun"

	"github.com/cogtri/pipeline/internal/config"
	"github.com/cogtri/pipeline/internal/model"
	"github.com/cogtri/pipeline/internal/queuemgr"
	"github.com/cogtri/pipeline/internal/store"
)

// filePayload is the file-analyse job payload (spec.md §4.3).
type filePayload struct {
	RunID    string `json:"run_id"`
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

// Run discovers files under cfg.TargetRoot, builds the job tree, and
// queues leaf file-analyse work via the transactional outbox. Returns
// the new run id. On any failure building the tree, the run is marked
// failed and the partially-built tree is rolled back (spec.md §4.2
// "Error handling").
func Run(ctx context.Context, st *store.Client, qm *queuemgr.Manager, cfg config.RunConfig) (string, error) {
	byDir, err := discoverFiles(cfg.TargetRoot, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return "", fmt.Errorf("walking target root: %w", err)
	}
	if len(byDir) == 0 {
		return "", ErrEmptyTarget
	}

	runID, err := st.CreateRun(ctx, cfg.TargetRoot)
	if err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}

	if err := buildTree(ctx, st, runID, cfg.TargetRoot, byDir); err != nil {
		if markErr := st.SetRunStatus(ctx, st.DB, runID, model.RunFailed); markErr != nil {
			slog.Error("failed to mark run failed after tree build error", "run_id", runID, "error", markErr)
		}
		return "", fmt.Errorf("building job tree: %w", err)
	}

	// Seed the per-directory completion counters after the tree commits.
	// These live in Redis, not the SQL transaction above: they are
	// orchestration state, not domain data. A failed seed is logged and
	// not retried; the aggregation worker consults only the Redis counter,
	// not the directory job's pending_children column, so an unseeded
	// directory's counter never reaches zero and its resolve job is not
	// enqueued.
	for dir, files := range byDir {
		if err := qm.InitDirectoryCounter(ctx, runID, dir, len(files)); err != nil {
			slog.Error("failed to seed directory counter", "run_id", runID, "dir", dir, "error", err)
		}
	}

	slog.Info("job tree built", "run_id", runID, "directories", len(byDir))
	return runID, nil
}

func buildTree(ctx context.Context, st *store.Client, runID, targetRoot string, byDir map[string][]string) error {
	return st.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		root := store.NewJob(runID, store.JobKindRoot, "", "", "")
		root.State = store.JobStateWaitingChildren
		root.PendingChildren = len(byDir)
		if err := st.InsertJob(ctx, tx, root); err != nil {
			return err
		}

		for dir, files := range byDir {
			dirJob := store.NewJob(runID, store.JobKindDirectory, dir, "", root.ID)
			dirJob.State = store.JobStateWaitingChildren
			dirJob.PendingChildren = len(files)
			if err := st.InsertJob(ctx, tx, dirJob); err != nil {
				return err
			}

			for _, relPath := range files {
				absPath := targetRoot + string(os.PathSeparator) + relPath
				hash, err := contentHash(absPath)
				if err != nil {
					return fmt.Errorf("hashing %s: %w", relPath, err)
				}

				fileID, err := st.InsertFile(ctx, tx, runID, relPath, hash)
				if err != nil {
					return err
				}

				fileJob := store.NewJob(runID, store.JobKindFile, "", fileID, dirJob.ID)
				fileJob.State = store.JobStateWaiting
				if err := st.InsertJob(ctx, tx, fileJob); err != nil {
					return err
				}

				payload, err := json.Marshal(filePayload{RunID: runID, FileID: fileID, FilePath: relPath})
				if err != nil {
					return fmt.Errorf("marshalling file job payload: %w", err)
				}
				if err := st.InsertOutboxEvent(ctx, tx, queuemgr.QueueFileAnalyse, string(payload)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// contentHash sums a file's bytes, recorded so a future incremental run
// could skip unchanged files; today only informational.
func contentHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
