// Package queuemgr is the Queue Manager component (spec.md §4.1/§4.3):
// a thin, allow-listed wrapper around a Redis backend providing durable
// work queues, a directory-completion counter, and the evidence-bundle
// seal CAS. Grounded on the corpus's go-redis/v9 usage (jordigilh-kubernaut's
// test fakes wrap the same client) and on alicebob/miniredis/v2 for
// in-process tests, the same pairing the corpus exercises.
package queuemgr

// Queue names are a fixed allow-list, never built from caller input, so
// a malformed payload can never address an arbitrary Redis key (same
// posture as the graph builder's label/type allow-lists, spec.md §7).
const (
	QueueFileAnalyse        = "file-analysis-queue"
	QueueDirectoryResolve   = "directory-resolution-queue"
	QueueGlobalResolve      = "global-resolution-queue"
	QueueDirectoryAggregate = "directory-aggregation-queue"
	QueueValidation         = "validation-queue"
	QueueReconciliation     = "reconciliation-queue"
	QueueGraphIngest        = "graph-ingestion-queue"
	QueueFailed             = "failed-jobs"
)

// Queues is the full allow-list, matching spec.md §4.3's named queues
// (relationship-resolution's batch role is folded into
// directory-aggregation's payload, since the embedded store already
// holds the durable POI rows that batch would otherwise re-carry — see
// DESIGN.md).
var Queues = []string{
	QueueFileAnalyse,
	QueueDirectoryAggregate,
	QueueDirectoryResolve,
	QueueGlobalResolve,
	QueueValidation,
	QueueReconciliation,
	QueueGraphIngest,
	QueueFailed,
}

func isAllowedQueue(name string) bool {
	for _, q := range Queues {
		if q == name {
			return true
		}
	}
	return false
}

// processingKey is the in-flight mirror list for a queue, used for the
// reliable-delivery claim pattern (BRPOPLPUSH-style).
func processingKey(queue string) string {
	return queue + ":processing"
}

func lockKey(queue, jobID string) string {
	return queue + ":lock:" + jobID
}
