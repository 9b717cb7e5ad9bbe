package queuemgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cogtri/pipeline/internal/config"
)

// envelope is the wire format pushed onto a queue list: enough metadata
// for retry accounting without a separate job table on the hot path
// (durable job-tree state still lives in internal/store).
type envelope struct {
	ID       string          `json:"id"`
	Queue    string          `json:"queue"`
	Attempts int             `json:"attempts"`
	Payload  json.RawMessage `json:"payload"`
}

// Job is a claimed unit of work handed to a worker.
type Job struct {
	ID       string
	Queue    string
	Attempts int
	Payload  []byte

	raw string // original serialized envelope, needed to remove it from the processing list on Ack
}

// Connect dials the Redis backend with a bounded exponential backoff,
// matching the retry posture the teacher applies to its own external
// dependencies (pkg/database's connection retry) generalized to Redis.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ConnectInitial
	bo.Multiplier = cfg.ConnectFactor
	bo.MaxInterval = cfg.ConnectCap
	bo.MaxElapsedTime = 0 // bounded by ctx instead, so callers can cancel on shutdown

	op := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	return client, nil
}

// Manager is the allow-listed Queue Manager: it never accepts a queue
// name outside topology.go's list, and its reaper recovers jobs whose
// worker died mid-lock (spec.md §4.1's "stalled" handling).
type Manager struct {
	rdb *redis.Client
	cfg config.QueueConfig
}

// New wraps an already-connected Redis client.
func New(rdb *redis.Client, cfg config.QueueConfig) *Manager {
	return &Manager{rdb: rdb, cfg: cfg}
}

// Push enqueues payload on queue and returns the generated job id.
func (m *Manager) Push(ctx context.Context, queue string, payload []byte) (string, error) {
	if !isAllowedQueue(queue) {
		return "", fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	env := envelope{ID: uuid.NewString(), Queue: queue, Attempts: 0, Payload: payload}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshalling job envelope: %w", err)
	}
	if err := m.rdb.LPush(ctx, queue, raw).Err(); err != nil {
		return "", fmt.Errorf("pushing job: %w", err)
	}
	return env.ID, nil
}

// Claim blocks up to timeout for one job on queue, atomically moving it
// into the queue's processing list and taking a renewable lock so a
// crashed worker's job can be detected as stalled and recovered.
func (m *Manager) Claim(ctx context.Context, queue string, timeout time.Duration) (*Job, error) {
	if !isAllowedQueue(queue) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	raw, err := m.rdb.BRPopLPush(ctx, queue, processingKey(queue), timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return m.finishClaim(ctx, queue, raw)
}

// ClaimNoWait claims one job without blocking, for callers assembling a
// batch (internal/graphbuilder, spec.md §4.9) that must stop draining as
// soon as the queue runs dry rather than wait for the next arrival.
func (m *Manager) ClaimNoWait(ctx context.Context, queue string) (*Job, error) {
	if !isAllowedQueue(queue) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	raw, err := m.rdb.RPopLPush(ctx, queue, processingKey(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return m.finishClaim(ctx, queue, raw)
}

func (m *Manager) finishClaim(ctx context.Context, queue, raw string) (*Job, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decoding job envelope: %w", err)
	}
	if err := m.rdb.Set(ctx, lockKey(queue, env.ID), "1", m.cfg.LockDuration).Err(); err != nil {
		return nil, fmt.Errorf("acquiring job lock: %w", err)
	}
	return &Job{ID: env.ID, Queue: queue, Attempts: env.Attempts, Payload: env.Payload, raw: raw}, nil
}

// Ack marks a job complete, removing it from the processing list and
// releasing its lock.
func (m *Manager) Ack(ctx context.Context, job *Job) error {
	pipe := m.rdb.TxPipeline()
	pipe.LRem(ctx, processingKey(job.Queue), 1, job.raw)
	pipe.Del(ctx, lockKey(job.Queue, job.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("acknowledging job: %w", err)
	}
	return nil
}

// Retry removes job from the processing list and either re-enqueues it
// with an incremented attempt count after a backoff delay, or — once
// DefaultAttempts is exhausted — pushes it, with its attempt count and
// the error message, onto the dead-letter queue (QueueFailed). Nothing
// in this module consumes QueueFailed, so these jobs get no
// store.InsertDeadLetter row.
func (m *Manager) Retry(ctx context.Context, job *Job, cause error) error {
	pipe := m.rdb.TxPipeline()
	pipe.LRem(ctx, processingKey(job.Queue), 1, job.raw)
	pipe.Del(ctx, lockKey(job.Queue, job.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clearing retried job from processing list: %w", err)
	}

	attempts := job.Attempts + 1
	if attempts >= m.cfg.DefaultAttempts {
		slog.Warn("job exhausted retry budget, moving to dead-letter queue",
			"queue", job.Queue, "job_id", job.ID, "attempts", attempts, "cause", cause)
		return m.deadLetter(ctx, job, attempts, cause)
	}

	delay := backoffDelay(m.cfg.BackoffInitial, attempts)
	env := envelope{ID: job.ID, Queue: job.Queue, Attempts: attempts, Payload: job.Payload}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling retried envelope: %w", err)
	}

	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
		if err := m.rdb.LPush(context.Background(), job.Queue, raw).Err(); err != nil {
			slog.Error("failed to re-enqueue retried job", "queue", job.Queue, "job_id", job.ID, "error", err)
		}
	}()
	return nil
}

func (m *Manager) deadLetter(ctx context.Context, job *Job, attempts int, cause error) error {
	env := envelope{ID: job.ID, Queue: job.Queue, Attempts: attempts, Payload: job.Payload}
	raw, err := json.Marshal(struct {
		envelope
		Error string `json:"error"`
	}{envelope: env, Error: cause.Error()})
	if err != nil {
		return fmt.Errorf("marshalling dead-letter envelope: %w", err)
	}
	if err := m.rdb.LPush(ctx, QueueFailed, raw).Err(); err != nil {
		return fmt.Errorf("pushing dead letter: %w", err)
	}
	return nil
}

func backoffDelay(initial time.Duration, attempts int) time.Duration {
	d := initial
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

// ReapStalled scans queue's processing list for jobs whose lock has
// expired (the owning worker died without Ack or Retry) and pushes them
// back onto the queue behind any jobs already waiting (Claim pops from
// the other end). Intended to run on StalledInterval.
func (m *Manager) ReapStalled(ctx context.Context, queue string) (int, error) {
	if !isAllowedQueue(queue) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	items, err := m.rdb.LRange(ctx, processingKey(queue), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("listing processing jobs: %w", err)
	}
	recovered := 0
	for _, raw := range items {
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		exists, err := m.rdb.Exists(ctx, lockKey(queue, env.ID)).Result()
		if err != nil {
			return recovered, fmt.Errorf("checking job lock: %w", err)
		}
		if exists > 0 {
			continue // still legitimately held
		}
		pipe := m.rdb.TxPipeline()
		pipe.LRem(ctx, processingKey(queue), 1, raw)
		pipe.LPush(ctx, queue, raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return recovered, fmt.Errorf("recovering stalled job: %w", err)
		}
		recovered++
		slog.Warn("recovered stalled job", "queue", queue, "job_id", env.ID)
	}
	return recovered, nil
}

// QueueDepth returns the approximate number of jobs waiting on queue,
// for periodic metrics sampling.
func (m *Manager) QueueDepth(ctx context.Context, queue string) (int64, error) {
	if !isAllowedQueue(queue) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	n, err := m.rdb.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("measuring queue depth: %w", err)
	}
	return n, nil
}

// RunStalledReaper runs ReapStalled on every queue at cfg.StalledInterval
// until ctx is cancelled.
func (m *Manager) RunStalledReaper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.StalledInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range Queues {
				if q == QueueFailed {
					continue
				}
				if _, err := m.ReapStalled(ctx, q); err != nil {
					slog.Error("stalled reap failed", "queue", q, "error", err)
				}
			}
		}
	}
}
