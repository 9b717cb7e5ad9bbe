// Package outbox implements the transactional outbox poller (spec.md
// §4.8): the single process that bridges rows written inside a domain
// transaction to the external queue backend, guaranteeing at-least-once
// delivery (invariant I4) without ever holding a queue connection open
// across a SQL transaction.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cogtri/pipeline/internal/config"
	"github.com/cogtri/pipeline/internal/store"
)

// Publish delivers one outbox row's payload to its topic. Modelled as a
// function value, not a *queuemgr.Manager pointer, per spec.md §9's
// explicit "outbox publisher built queue-agnostic" guidance — this keeps
// internal/outbox from importing internal/queuemgr at all, so the
// dependency graph between the two packages stays acyclic regardless of
// which one cmd/pipeline wires up first.
type Publish func(ctx context.Context, topic string, payload []byte) error

// Publisher drains internal/store's outbox_events table on a fixed
// interval.
type Publisher struct {
	st      *store.Client
	publish Publish
	cfg     config.OutboxConfig
}

func New(st *store.Client, publish Publish, cfg config.OutboxConfig) *Publisher {
	return &Publisher{st: st, publish: publish, cfg: cfg}
}

// Run polls until ctx is cancelled. Each tick drains up to
// cfg.BatchSize rows; a failed publish leaves its row unpublished for
// the next tick rather than blocking the batch.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.drainOnce(ctx); err != nil {
				slog.Error("outbox drain failed", "error", err)
			}
		}
	}
}

// drainOnce publishes one batch. Each row's queue publish and its own
// published_at stamp happen as two independent steps (spec.md §4.8:
// "publishes ... then marks the row published in a second, short
// bun.Tx") rather than as one transaction spanning the network call, so
// a slow or failing queue backend never holds a SQL transaction open.
func (p *Publisher) drainOnce(ctx context.Context) error {
	events, err := p.st.UnpublishedOutboxEvents(ctx, p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("listing unpublished events: %w", err)
	}

	for _, e := range events {
		if err := p.publish(ctx, e.Topic, []byte(e.PayloadJSON)); err != nil {
			slog.Error("publishing outbox event failed, will retry next tick",
				"id", e.ID, "topic", e.Topic, "error", err)
			continue
		}
		if err := p.st.MarkOutboxPublished(ctx, e.ID); err != nil {
			slog.Error("marking outbox event published failed", "id", e.ID, "error", err)
		}
	}
	return nil
}
