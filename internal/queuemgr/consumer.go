package queuemgr

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cogtri/pipeline/internal/metrics"
)

// Handler processes one job's payload. A returned error causes Retry
// (backoff, then dead-letter once attempts are exhausted); nil acks the
// job.
type Handler func(ctx context.Context, payload []byte) error

// Consumer drives one queue's claim/process/ack loop in its own
// goroutine, in the teacher's Start/Stop worker shape
// (pkg/queue.Worker): a stopCh plus sync.Once and a WaitGroup so Stop
// blocks until the in-flight job finishes.
type Consumer struct {
	m           *Manager
	queue       string
	claimWait   time.Duration
	handler     Handler

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConsumer builds a Consumer for queue, claiming with a bounded
// blocking wait so Stop is never delayed more than claimWait.
func NewConsumer(m *Manager, queue string, claimWait time.Duration, handler Handler) *Consumer {
	return &Consumer{
		m:         m,
		queue:     queue,
		claimWait: claimWait,
		handler:   handler,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the poll loop in a goroutine.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop signals the loop to exit and waits for the current job to finish.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()
	log := slog.With("queue", c.queue)

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := c.m.Claim(ctx, c.queue, c.claimWait)
		if errors.Is(err, ErrNoJob) {
			continue
		}
		if err != nil {
			log.Error("claim failed", "error", err)
			continue
		}

		if procErr := c.handler(ctx, job.Payload); procErr != nil {
			log.Error("job processing failed, retrying", "job_id", job.ID, "error", procErr)
			metrics.JobsProcessed.WithLabelValues(c.queue, "retry").Inc()
			if err := c.m.Retry(ctx, job, procErr); err != nil {
				log.Error("failed to requeue job", "job_id", job.ID, "error", err)
			}
			continue
		}
		metrics.JobsProcessed.WithLabelValues(c.queue, "success").Inc()
		if err := c.m.Ack(ctx, job); err != nil {
			log.Error("failed to ack job", "job_id", job.ID, "error", err)
		}
	}
}
