package store

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// InsertOutboxEvent queues a payload for publication to the given queue
// topic. Always called inside the same transaction as the domain write
// it accompanies (invariant I3); internal/outbox's poller is the only
// reader.
func (c *Client) InsertOutboxEvent(ctx context.Context, tx bun.IDB, topic string, payloadJSON string) error {
	row := &OutboxEventRow{
		Topic:       topic,
		PayloadJSON: payloadJSON,
		CreatedAt:   time.Now(),
	}
	if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("inserting outbox event: %w", err)
	}
	return nil
}

// UnpublishedOutboxEvents fetches a batch of events awaiting publication,
// oldest first.
func (c *Client) UnpublishedOutboxEvents(ctx context.Context, limit int) ([]OutboxEventRow, error) {
	var rows []OutboxEventRow
	err := c.DB.NewSelect().Model(&rows).
		Where("published_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing unpublished outbox events: %w", err)
	}
	return rows, nil
}

// MarkOutboxPublished stamps an event as published. Done in its own
// short transaction, separate from the original write (spec.md §4.8) so
// publication latency never blocks a worker's domain transaction.
func (c *Client) MarkOutboxPublished(ctx context.Context, id int64) error {
	_, err := c.DB.NewUpdate().Model((*OutboxEventRow)(nil)).
		Set("published_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("marking outbox event published: %w", err)
	}
	return nil
}

// DeleteOutboxEvent removes a published event. The poller in
// internal/outbox does not call it; it stamps published_at instead.
func (c *Client) DeleteOutboxEvent(ctx context.Context, id int64) error {
	_, err := c.DB.NewDelete().Model((*OutboxEventRow)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("deleting outbox event: %w", err)
	}
	return nil
}
