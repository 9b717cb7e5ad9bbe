package store

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/cogtri/pipeline/internal/model"
)

// UpsertDirectorySummary records (or replaces) the LLM-produced summary
// for one directory, consumed by the global-resolution pass instead of
// raw POIs (spec.md §4.5/§4.9 design notes on keeping the global pass's
// input small).
func (c *Client) UpsertDirectorySummary(ctx context.Context, tx bun.IDB, s model.DirectorySummary) error {
	row := &DirectorySummaryRow{
		RunID:     s.RunID,
		DirPath:   s.DirPath,
		Summary:   s.Summary,
		POICount:  s.POICount,
		UpdatedAt: time.Now(),
	}
	_, err := tx.NewInsert().Model(row).
		On("CONFLICT (run_id, dir_path) DO UPDATE").
		Set("summary = EXCLUDED.summary").
		Set("poi_count = EXCLUDED.poi_count").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upserting directory summary: %w", err)
	}
	return nil
}

// DirectorySummariesByRun lists every directory summary for a run, the
// global-resolution pass's entire input set.
func (c *Client) DirectorySummariesByRun(ctx context.Context, runID string) ([]DirectorySummaryRow, error) {
	var rows []DirectorySummaryRow
	if err := c.DB.NewSelect().Model(&rows).Where("run_id = ?", runID).Scan(ctx); err != nil {
		return nil, fmt.Errorf("listing directory summaries: %w", err)
	}
	return rows, nil
}
