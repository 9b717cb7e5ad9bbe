package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/cogtri/pipeline/internal/model"
)

// AppendEvidence records one pass's contribution to a relationship
// candidate's evidence bundle, creating the bundle row on first sight.
// The atomic "has every expected contributor reported in" decision lives
// in internal/queuemgr's Redis counter (spec.md §4.6); this call keeps
// the durable bundle in sync with that counter so reconciliation has a
// complete, crash-safe record to read even if the queue backend loses
// its in-memory state.
func (c *Client) AppendEvidence(ctx context.Context, tx bun.IDB, runID string, cand model.RelationshipCandidate, expectedCount int) error {
	now := time.Now()
	item := model.EvidenceItem{
		Pass:          cand.OriginatingPass,
		RawConfidence: cand.RawConfidence,
		Agrees:        cand.Agrees,
		RecordedAt:    now,
	}
	itemBytes, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshalling evidence item: %w", err)
	}

	row := new(EvidenceBundleRow)
	selErr := tx.NewSelect().Model(row).
		Where("run_id = ? AND rel_hash = ?", runID, cand.RelHash).
		Scan(ctx)
	if selErr == sql.ErrNoRows {
		row = &EvidenceBundleRow{
			RelHash:        cand.RelHash,
			RunID:          runID,
			SourceQN:       cand.SourceQN,
			TargetQN:       cand.TargetQN,
			RelType:        string(cand.Type),
			ExpectedCount:  expectedCount,
			CollectedCount: 1,
			Sealed:         false,
			ItemsJSON:      "[" + string(itemBytes) + "]",
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return fmt.Errorf("inserting evidence bundle: %w", err)
		}
		return nil
	}
	if selErr != nil {
		return fmt.Errorf("loading evidence bundle: %w", selErr)
	}

	var items []model.EvidenceItem
	if err := json.Unmarshal([]byte(row.ItemsJSON), &items); err != nil {
		return fmt.Errorf("unmarshalling evidence items: %w", err)
	}
	items = append(items, item)
	newItemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshalling evidence items: %w", err)
	}

	_, err = tx.NewUpdate().Model((*EvidenceBundleRow)(nil)).
		Set("items_json = ?", string(newItemsJSON)).
		Set("collected_count = collected_count + 1").
		Set("updated_at = ?", now).
		Where("run_id = ? AND rel_hash = ?", runID, cand.RelHash).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("updating evidence bundle: %w", err)
	}
	return nil
}

// MarkSealed flips a bundle's sealed flag, done once under the
// queuemgr's Redis CAS so exactly one worker transitions it.
func (c *Client) MarkSealed(ctx context.Context, tx bun.IDB, runID, relHash string) error {
	_, err := tx.NewUpdate().Model((*EvidenceBundleRow)(nil)).
		Set("sealed = ?", true).
		Set("updated_at = ?", time.Now()).
		Where("run_id = ? AND rel_hash = ? AND sealed = ?", runID, relHash, false).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sealing evidence bundle: %w", err)
	}
	return nil
}

// GetEvidenceBundle fetches one bundle and decodes its items.
func (c *Client) GetEvidenceBundle(ctx context.Context, runID, relHash string) (*EvidenceBundleRow, []model.EvidenceItem, error) {
	row := new(EvidenceBundleRow)
	err := c.DB.NewSelect().Model(row).Where("run_id = ? AND rel_hash = ?", runID, relHash).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("getting evidence bundle: %w", err)
	}
	var items []model.EvidenceItem
	if err := json.Unmarshal([]byte(row.ItemsJSON), &items); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling evidence items: %w", err)
	}
	return row, items, nil
}

// DeleteEvidenceBundle removes a bundle row after reconciliation, per
// spec.md §4.6's closing step: a reconciled bundle carries no further
// information once its verdict is durably recorded in
// final_relationships.
func (c *Client) DeleteEvidenceBundle(ctx context.Context, tx bun.IDB, runID, relHash string) error {
	_, err := tx.NewDelete().Model((*EvidenceBundleRow)(nil)).
		Where("run_id = ? AND rel_hash = ?", runID, relHash).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("deleting evidence bundle: %w", err)
	}
	return nil
}

// UnsealedExpiredBundles lists unsealed bundles whose first evidence
// arrived before cutoff, the grace-timeout sweep's candidate set
// (spec.md §4.6's "or the configured grace timeout elapses" clause).
func (c *Client) UnsealedExpiredBundles(ctx context.Context, cutoff time.Time, limit int) ([]EvidenceBundleRow, error) {
	var rows []EvidenceBundleRow
	err := c.DB.NewSelect().Model(&rows).
		Where("sealed = ? AND created_at < ?", false, cutoff).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing unsealed expired bundles: %w", err)
	}
	return rows, nil
}

// SealedUnreconciledBundles lists sealed bundles that have not yet
// produced a final_relationships row.
func (c *Client) SealedUnreconciledBundles(ctx context.Context, runID string, limit int) ([]EvidenceBundleRow, error) {
	var rows []EvidenceBundleRow
	err := c.DB.NewSelect().Model(&rows).
		Where("run_id = ? AND sealed = ?", runID, true).
		Where("rel_hash NOT IN (SELECT rel_hash FROM final_relationships WHERE run_id = ?)", runID).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sealed bundles: %w", err)
	}
	return rows, nil
}
