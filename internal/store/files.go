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

// InsertFile records one discovered source file in pending status. Called
// by the producer inside the same transaction that creates the file's
// job row, so a run's file set and its job tree are always consistent.
func (c *Client) InsertFile(ctx context.Context, tx bun.IDB, runID, path, contentHash string) (string, error) {
	now := time.Now()
	row := &FileRow{
		ID:          uuid.NewString(),
		RunID:       runID,
		Path:        path,
		ContentHash: contentHash,
		Status:      string(model.FileStatusPending),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
		return "", fmt.Errorf("inserting file: %w", err)
	}
	return row.ID, nil
}

// GetFile fetches a file by id.
func (c *Client) GetFile(ctx context.Context, id string) (*FileRow, error) {
	row := new(FileRow)
	err := c.DB.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}
	return row, nil
}

// SetFileStatus updates a file's lifecycle status and, on failure,
// records the error that caused it.
func (c *Client) SetFileStatus(ctx context.Context, tx bun.IDB, id string, status model.FileStatus, lastErr error) error {
	q := tx.NewUpdate().Model((*FileRow)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now())
	if lastErr != nil {
		q = q.Set("last_error = ?", lastErr.Error())
	}
	if _, err := q.Where("id = ?", id).Exec(ctx); err != nil {
		return fmt.Errorf("updating file status: %w", err)
	}
	return nil
}

// FilesByRun lists every file belonging to a run.
func (c *Client) FilesByRun(ctx context.Context, runID string) ([]FileRow, error) {
	var rows []FileRow
	if err := c.DB.NewSelect().Model(&rows).Where("run_id = ?", runID).Scan(ctx); err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return rows, nil
}
