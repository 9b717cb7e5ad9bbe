package queuemgr

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// directoryCounterScript atomically decrements a directory's pending-file
// counter and reports whether this call was the one that reached zero,
// so exactly one worker enqueues the directory-resolve job even when
// several file-analyse workers finish within the same millisecond.
var directoryCounterScript = redis.NewScript(`
local remaining = redis.call('DECR', KEYS[1])
if remaining == 0 then
  return 1
end
return 0
`)

func directoryCounterKey(runID, dirPath string) string {
	return "dircount:" + runID + ":" + dirPath
}

// InitDirectoryCounter seeds a directory's pending-file count, called
// once by the producer when it creates the directory's job and its
// children (spec.md §4.2/§4.3).
func (m *Manager) InitDirectoryCounter(ctx context.Context, runID, dirPath string, fileCount int) error {
	if err := m.rdb.Set(ctx, directoryCounterKey(runID, dirPath), fileCount, 0).Err(); err != nil {
		return fmt.Errorf("initializing directory counter: %w", err)
	}
	return nil
}

// DecrementDirectoryCounter records one completed file-analyse job and
// reports true exactly once, for the caller that observes the counter
// reach zero — that caller alone enqueues the directory's resolve job.
func (m *Manager) DecrementDirectoryCounter(ctx context.Context, runID, dirPath string) (bool, error) {
	key := directoryCounterKey(runID, dirPath)
	res, err := directoryCounterScript.Run(ctx, m.rdb, []string{key}).Int()
	if err != nil {
		return false, fmt.Errorf("decrementing directory counter: %w", err)
	}
	return res == 1, nil
}

// evidenceSealScript atomically increments a bundle's collected-evidence
// counter and, the first time it reaches the expected count, claims the
// seal via SETNX — exactly one caller ever observes a 1, which is the
// exactly-once transition into reconciliation (spec.md §4.6).
var evidenceSealScript = redis.NewScript(`
local collected = redis.call('INCR', KEYS[1])
local expected = tonumber(ARGV[1])
if collected >= expected then
  local won = redis.call('SETNX', KEYS[2], '1')
  if won == 1 then
    return 1
  end
end
return 0
`)

// graceSealScript claims the seal unconditionally (used once a bundle's
// grace timeout elapses, regardless of whether every expected pass
// reported in), still guarded by the same SETNX so it never races with
// a concurrent count-based seal.
var graceSealScript = redis.NewScript(`
return redis.call('SETNX', KEYS[1], '1')
`)

func evidenceCollectedKey(runID, relHash string) string {
	return "evidcount:" + runID + ":" + relHash
}

func evidenceSealedKey(runID, relHash string) string {
	return "evidsealed:" + runID + ":" + relHash
}

// RecordEvidenceAndMaybeSeal increments a bundle's collected count and
// reports whether this call is the one that should seal the bundle and
// hand it to reconciliation.
func (m *Manager) RecordEvidenceAndMaybeSeal(ctx context.Context, runID, relHash string, expectedCount int) (bool, error) {
	res, err := evidenceSealScript.Run(ctx, m.rdb,
		[]string{evidenceCollectedKey(runID, relHash), evidenceSealedKey(runID, relHash)},
		expectedCount,
	).Int()
	if err != nil {
		return false, fmt.Errorf("recording evidence: %w", err)
	}
	return res == 1, nil
}

// SealByGraceTimeout claims the seal for a bundle whose grace timeout
// has elapsed without every expected pass reporting in. Returns
// ErrAlreadySealed if another path already sealed it.
func (m *Manager) SealByGraceTimeout(ctx context.Context, runID, relHash string) error {
	res, err := graceSealScript.Run(ctx, m.rdb, []string{evidenceSealedKey(runID, relHash)}).Int()
	if err != nil {
		return fmt.Errorf("sealing by grace timeout: %w", err)
	}
	if res != 1 {
		return ErrAlreadySealed
	}
	return nil
}
