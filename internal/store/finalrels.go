package store

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/cogtri/pipeline/internal/triangulation"
)

// UpsertFinalRelationship records the reconciled verdict for a relationship
// candidate. Idempotent: reconciling the same sealed bundle twice (e.g.
// after a worker restart) overwrites with the same values rather than
// producing a duplicate row (invariant I6).
func (c *Client) UpsertFinalRelationship(ctx context.Context, tx bun.IDB, runID string, bundle EvidenceBundleRow, result triangulation.Result) error {
	now := time.Now()
	row := &FinalRelationshipRow{
		RelHash:         bundle.RelHash,
		RunID:           runID,
		SourceQN:        bundle.SourceQN,
		TargetQN:        bundle.TargetQN,
		RelType:         bundle.RelType,
		FinalConfidence: result.FinalConfidence,
		Verdict:         string(result.Verdict),
		Committed:       false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := tx.NewInsert().Model(row).
		On("CONFLICT (run_id, rel_hash) DO UPDATE").
		Set("final_confidence = EXCLUDED.final_confidence").
		Set("verdict = EXCLUDED.verdict").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upserting final relationship: %w", err)
	}
	return nil
}

// ValidatedUncommittedRelationships lists final relationships ready for
// the graph builder to commit: validated verdict, not yet marked
// committed (spec.md §4.9).
func (c *Client) ValidatedUncommittedRelationships(ctx context.Context, runID string, limit int) ([]FinalRelationshipRow, error) {
	var rows []FinalRelationshipRow
	err := c.DB.NewSelect().Model(&rows).
		Where("run_id = ? AND verdict = ? AND committed = ?", runID, string(triangulation.VerdictValidated), false).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing validated relationships: %w", err)
	}
	return rows, nil
}

// MarkCommitted flags relationships as committed to the graph store
// after a successful batch ingest.
func (c *Client) MarkCommitted(ctx context.Context, tx bun.IDB, runID string, relHashes []string) error {
	if len(relHashes) == 0 {
		return nil
	}
	_, err := tx.NewUpdate().Model((*FinalRelationshipRow)(nil)).
		Set("committed = ?", true).
		Set("updated_at = ?", time.Now()).
		Where("run_id = ? AND rel_hash IN (?)", runID, bun.In(relHashes)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("marking relationships committed: %w", err)
	}
	return nil
}
