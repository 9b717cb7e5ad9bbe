package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/cogtri/pipeline/internal/model"
)

// InsertPOIs bulk-inserts the points of interest extracted from one file,
// in the same transaction as the file's status update and outbox event
// (spec.md §4.4 step 6).
func (c *Client) InsertPOIs(ctx context.Context, tx bun.IDB, pois []model.POI) error {
	if len(pois) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]POIRow, len(pois))
	for i, p := range pois {
		id := p.ID
		if id == "" {
			id = uuid.NewString()
		}
		rows[i] = POIRow{
			ID:            id,
			RunID:         p.RunID,
			FileID:        p.FileID,
			Type:          string(p.Type),
			Name:          p.Name,
			QualifiedName: p.QualifiedName,
			Signature:     p.Signature,
			StartLine:     p.StartLine,
			EndLine:       p.EndLine,
			CreatedAt:     now,
		}
	}
	if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("inserting pois: %w", err)
	}
	return nil
}

// POIsByDirectory returns every POI whose file lives directly under
// dirPath, for the intra-directory resolution pass (spec.md §4.5).
func (c *Client) POIsByDirectory(ctx context.Context, runID, dirPath string) ([]POIRow, error) {
	var rows []POIRow
	err := c.DB.NewSelect().Model(&rows).
		Join("JOIN files ON files.id = poi.file_id").
		Where("poi.run_id = ?", runID).
		Where("files.path LIKE ?", dirPath+"/%").
		Where("files.path NOT LIKE ?", dirPath+"/%/%").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing directory pois: %w", err)
	}
	return rows, nil
}

// POIsByFile returns every POI belonging to one file, for the
// intra-file resolution pass.
func (c *Client) POIsByFile(ctx context.Context, fileID string) ([]POIRow, error) {
	var rows []POIRow
	if err := c.DB.NewSelect().Model(&rows).Where("file_id = ?", fileID).Scan(ctx); err != nil {
		return nil, fmt.Errorf("listing file pois: %w", err)
	}
	return rows, nil
}

// POIsByRun returns every POI in a run, for the global-resolution pass
// to resolve cross-directory qualified names.
func (c *Client) POIsByRun(ctx context.Context, runID string) ([]POIRow, error) {
	var rows []POIRow
	if err := c.DB.NewSelect().Model(&rows).Where("run_id = ?", runID).Scan(ctx); err != nil {
		return nil, fmt.Errorf("listing run pois: %w", err)
	}
	return rows, nil
}
