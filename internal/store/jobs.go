package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NewJob constructs an unsaved job row. Callers insert it with InsertJob
// inside the transaction that also creates any sibling rows (files,
// other jobs) so the tree is built atomically (spec.md §4.2).
func NewJob(runID, kind, dirPath, fileID, parentID string) *JobRow {
	now := time.Now()
	return &JobRow{
		ID:        uuid.NewString(),
		RunID:     runID,
		Kind:      kind,
		DirPath:   dirPath,
		FileID:    fileID,
		ParentID:  parentID,
		State:     JobStateWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// InsertJob inserts a job row, optionally seeding its pending-children
// count for a parent job created before its children are known.
func (c *Client) InsertJob(ctx context.Context, tx bun.IDB, row *JobRow) error {
	if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, id string) (*JobRow, error) {
	row := new(JobRow)
	err := c.DB.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return row, nil
}

// SetJobState transitions a job's state.
func (c *Client) SetJobState(ctx context.Context, tx bun.IDB, id, state string, lastErr error) error {
	q := tx.NewUpdate().Model((*JobRow)(nil)).
		Set("state = ?", state).
		Set("updated_at = ?", time.Now())
	if lastErr != nil {
		q = q.Set("last_error = ?", lastErr.Error())
	}
	if _, err := q.Where("id = ?", id).Exec(ctx); err != nil {
		return fmt.Errorf("updating job state: %w", err)
	}
	return nil
}

// IncrementJobAttempts bumps a job's attempt counter, for retry-budget
// enforcement ahead of the dead-letter transition.
func (c *Client) IncrementJobAttempts(ctx context.Context, tx bun.IDB, id string) (int, error) {
	var attempts int
	_, err := tx.NewUpdate().Model((*JobRow)(nil)).
		Set("attempts = attempts + 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Returning("attempts").
		Exec(ctx, &attempts)
	if err != nil {
		return 0, fmt.Errorf("incrementing job attempts: %w", err)
	}
	return attempts, nil
}

// CompleteChildAndMaybeUnblockParent atomically decrements the parent
// job's pending-children counter and, if it has just reached zero,
// flips the parent from waiting-children to waiting so a worker can
// pick it up. This is the SQL-side half of invariant I5; the directory
// job also uses the Redis counter in internal/queuemgr for the
// higher-throughput per-file case, with this table as the durable
// source of truth reconciled by the aggregator.
func (c *Client) CompleteChildAndMaybeUnblockParent(ctx context.Context, tx bun.IDB, parentID string) (unblocked bool, err error) {
	var pending int
	_, err = tx.NewUpdate().Model((*JobRow)(nil)).
		Set("pending_children = pending_children - 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", parentID).
		Returning("pending_children").
		Exec(ctx, &pending)
	if err != nil {
		return false, fmt.Errorf("decrementing pending children: %w", err)
	}
	if pending > 0 {
		return false, nil
	}
	res, err := tx.NewUpdate().Model((*JobRow)(nil)).
		Set("state = ?", JobStateWaiting).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND state = ?", parentID, JobStateWaitingChildren).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("unblocking parent job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking parent unblock result: %w", err)
	}
	return n > 0, nil
}

// JobByFileID fetches the file-analyse job created for a given file.
func (c *Client) JobByFileID(ctx context.Context, fileID string) (*JobRow, error) {
	row := new(JobRow)
	err := c.DB.NewSelect().Model(row).Where("kind = ? AND file_id = ?", JobKindFile, fileID).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job by file id: %w", err)
	}
	return row, nil
}

// JobByDirPath fetches the directory-resolve job for a given run and
// directory path.
func (c *Client) JobByDirPath(ctx context.Context, runID, dirPath string) (*JobRow, error) {
	row := new(JobRow)
	err := c.DB.NewSelect().Model(row).
		Where("run_id = ? AND kind = ? AND dir_path = ?", runID, JobKindDirectory, dirPath).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job by directory path: %w", err)
	}
	return row, nil
}

// RootJobByRun fetches the root global-resolve job for a run.
func (c *Client) RootJobByRun(ctx context.Context, runID string) (*JobRow, error) {
	row := new(JobRow)
	err := c.DB.NewSelect().Model(row).
		Where("run_id = ? AND kind = ?", runID, JobKindRoot).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting root job: %w", err)
	}
	return row, nil
}

// ClaimWaitingJobs atomically claims up to limit waiting jobs of the
// given kind, transitioning them to active and returning the claimed
// rows. Grounded on the UPDATE ... WHERE id IN (subquery) ... RETURNING
// pattern used for lease-based job claiming in the example corpus
// (RomanQed-gqs/sql/puller.go's Pull).
func (c *Client) ClaimWaitingJobs(ctx context.Context, kind string, limit int) ([]JobRow, error) {
	var claimed []JobRow
	err := c.WithTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		sub := tx.NewSelect().Model((*JobRow)(nil)).
			Column("id").
			Where("kind = ? AND state = ?", kind, JobStateWaiting).
			Order("created_at ASC").
			Limit(limit)
		_, err := tx.NewUpdate().Model((*JobRow)(nil)).
			Set("state = ?", JobStateActive).
			Set("updated_at = ?", time.Now()).
			Where("id IN (?)", sub).
			Returning("*").
			Exec(ctx, &claimed)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claiming jobs: %w", err)
	}
	return claimed, nil
}
