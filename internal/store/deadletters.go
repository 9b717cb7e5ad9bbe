package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cogtri/pipeline/internal/model"
)

// InsertDeadLetter quarantines a job that exhausted its retry budget
// (spec.md §9), keeping the pipeline moving instead of blocking on one
// poison job.
func (c *Client) InsertDeadLetter(ctx context.Context, runID, queue, jobID string, payload any, cause error, errCtx string) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling dead letter payload: %w", err)
	}
	row := &DeadLetterRow{
		ID:           uuid.NewString(),
		RunID:        runID,
		Queue:        queue,
		JobID:        jobID,
		PayloadJSON:  string(payloadJSON),
		ErrorMessage: cause.Error(),
		ErrorContext: errCtx,
		FailedAt:     time.Now(),
		Status:       "unresolved",
	}
	if _, err := c.DB.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	return nil
}

// InsertFailedPOI quarantines a single POI that failed validation or
// commit, rather than discarding the whole batch it was found in.
func (c *Client) InsertFailedPOI(ctx context.Context, runID, jobID string, poi model.POI, cause error, errCtx string) error {
	poiJSON, err := json.Marshal(poi)
	if err != nil {
		return fmt.Errorf("marshalling failed poi: %w", err)
	}
	row := &FailedPOIRow{
		ID:           uuid.NewString(),
		RunID:        runID,
		JobID:        jobID,
		POIJSON:      string(poiJSON),
		ErrorMessage: cause.Error(),
		ErrorContext: errCtx,
		FailedAt:     time.Now(),
		Status:       "unresolved",
	}
	if _, err := c.DB.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("inserting failed poi: %w", err)
	}
	return nil
}

// DeadLettersByRun lists dead letters for a run, for operator inspection
// and the run-summary report.
func (c *Client) DeadLettersByRun(ctx context.Context, runID string) ([]DeadLetterRow, error) {
	var rows []DeadLetterRow
	if err := c.DB.NewSelect().Model(&rows).Where("run_id = ?", runID).Scan(ctx); err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	return rows, nil
}
