package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/cogtri/pipeline/internal/model"
)

// CreateRun inserts a new run row in the active state and returns its id.
func (c *Client) CreateRun(ctx context.Context, targetRoot string) (string, error) {
	now := time.Now()
	row := &RunRow{
		ID:         uuid.NewString(),
		TargetRoot: targetRoot,
		Status:     string(model.RunActive),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := c.DB.NewInsert().Model(row).Exec(ctx); err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}
	return row.ID, nil
}

// GetRun fetches a run by id.
func (c *Client) GetRun(ctx context.Context, id string) (*RunRow, error) {
	row := new(RunRow)
	err := c.DB.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}
	return row, nil
}

// SetRunStatus transitions a run's status, for use once the root job
// terminates (spec.md §4.3).
func (c *Client) SetRunStatus(ctx context.Context, tx bun.IDB, id string, status model.RunStatus) error {
	_, err := tx.NewUpdate().Model((*RunRow)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("updating run status: %w", err)
	}
	return nil
}
