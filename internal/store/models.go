package store

import (
	"time"

	"github.com/uptrace/bun"
)

// RunRow is the bun model backing the runs table: one row per pipeline
// invocation against a target root (spec.md §3's Run entity, added to
// the data model for internal consistency — see SPEC_FULL.md §6).
type RunRow struct {
	bun.BaseModel `bun:"table:runs"`

	ID         string    `bun:"id,pk"`
	TargetRoot string    `bun:"target_root,notnull"`
	Status     string    `bun:"status,notnull,default:'active'"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

// JobRow backs the hierarchical job tree: one root global-resolve job
// per run, N directory-resolve children, and per-file file-analyse
// leaves (spec.md §4.3, invariant I5 — a parent only becomes runnable
// once every child reaches a terminal state).
type JobRow struct {
	bun.BaseModel `bun:"table:jobs"`

	ID              string    `bun:"id,pk"`
	RunID           string    `bun:"run_id,notnull"`
	Kind            string    `bun:"kind,notnull"` // root | directory | file
	DirPath         string    `bun:"dir_path"`
	FileID          string    `bun:"file_id"`
	ParentID        string    `bun:"parent_id"`
	State           string    `bun:"state,notnull,default:'waiting'"`
	PendingChildren int       `bun:"pending_children,notnull,default:0"`
	Attempts        int       `bun:"attempts,notnull,default:0"`
	LastError       string    `bun:"last_error"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

// Job states.
const (
	JobStateWaitingChildren = "waiting_children"
	JobStateWaiting         = "waiting"
	JobStateActive          = "active"
	JobStateCompleted       = "completed"
	JobStateFailed          = "failed"
)

// Job kinds.
const (
	JobKindRoot      = "root"
	JobKindDirectory = "directory"
	JobKindFile      = "file"
)

// FileRow backs the files table.
type FileRow struct {
	bun.BaseModel `bun:"table:files"`

	ID          string    `bun:"id,pk"`
	RunID       string    `bun:"run_id,notnull"`
	Path        string    `bun:"path,notnull"`
	ContentHash string    `bun:"content_hash,notnull,default:''"`
	Status      string    `bun:"status,notnull,default:'pending'"`
	LastError   string    `bun:"last_error"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

// POIRow backs the pois table.
type POIRow struct {
	bun.BaseModel `bun:"table:pois,alias:poi"`

	ID            string    `bun:"id,pk"`
	RunID         string    `bun:"run_id,notnull"`
	FileID        string    `bun:"file_id,notnull"`
	Type          string    `bun:"type,notnull"`
	Name          string    `bun:"name,notnull"`
	QualifiedName string    `bun:"qualified_name,notnull"`
	Signature     string    `bun:"signature,notnull,default:''"`
	StartLine     int       `bun:"start_line,notnull,default:0"`
	EndLine       int       `bun:"end_line,notnull,default:0"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

// DirectorySummaryRow backs the directory_summaries table.
type DirectorySummaryRow struct {
	bun.BaseModel `bun:"table:directory_summaries"`

	RunID     string    `bun:"run_id,pk"`
	DirPath   string    `bun:"dir_path,pk"`
	Summary   string    `bun:"summary,notnull,default:''"`
	POICount  int       `bun:"poi_count,notnull,default:0"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// EvidenceBundleRow backs the evidence_bundles table: the accumulating
// per-relationship-candidate bundle that collects contributions from
// every pass before it seals and is handed to the reconciliation engine
// (spec.md §4.6).
type EvidenceBundleRow struct {
	bun.BaseModel `bun:"table:evidence_bundles"`

	RelHash         string    `bun:"rel_hash,pk"`
	RunID           string    `bun:"run_id,pk"`
	SourceQN        string    `bun:"source_qn,notnull"`
	TargetQN        string    `bun:"target_qn,notnull"`
	RelType         string    `bun:"rel_type,notnull"`
	ExpectedCount   int       `bun:"expected_count,notnull,default:0"`
	CollectedCount  int       `bun:"collected_count,notnull,default:0"`
	Sealed          bool      `bun:"sealed,notnull,default:false"`
	ItemsJSON       string    `bun:"items_json,notnull,default:'[]'"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

// FinalRelationshipRow backs the final_relationships table: the
// reconciled, confidence-scored verdict for one relationship candidate.
type FinalRelationshipRow struct {
	bun.BaseModel `bun:"table:final_relationships"`

	RelHash         string    `bun:"rel_hash,pk"`
	RunID           string    `bun:"run_id,pk"`
	SourceQN        string    `bun:"source_qn,notnull"`
	TargetQN        string    `bun:"target_qn,notnull"`
	RelType         string    `bun:"rel_type,notnull"`
	FinalConfidence float64   `bun:"final_confidence,notnull,default:0"`
	Verdict         string    `bun:"verdict,notnull"`
	Committed       bool      `bun:"committed,notnull,default:false"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

// OutboxEventRow backs the outbox_events table: the transactional
// outbox pattern (invariants I3/I4). A worker inserts a row in the same
// transaction as its domain writes; a separate poller publishes to the
// queue backend and stamps PublishedAt.
type OutboxEventRow struct {
	bun.BaseModel `bun:"table:outbox_events"`

	ID          int64      `bun:"id,pk,autoincrement"`
	Topic       string     `bun:"topic,notnull"`
	PayloadJSON string     `bun:"payload_json,notnull"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	PublishedAt *time.Time `bun:"published_at"`
}

// DeadLetterRow backs the dead_letters table: jobs that exhausted their
// retry budget (spec.md §9 error handling).
type DeadLetterRow struct {
	bun.BaseModel `bun:"table:dead_letters"`

	ID           string    `bun:"id,pk"`
	RunID        string    `bun:"run_id,notnull"`
	Queue        string    `bun:"queue,notnull"`
	JobID        string    `bun:"job_id,notnull"`
	PayloadJSON  string    `bun:"payload_json,notnull"`
	ErrorMessage string    `bun:"error_message,notnull"`
	ErrorContext string    `bun:"error_context,notnull,default:''"`
	FailedAt     time.Time `bun:"failed_at,notnull"`
	Status       string    `bun:"status,notnull,default:'unresolved'"`
}

// FailedPOIRow backs the failed_pois table: individual POIs that failed
// validation or commit, quarantined rather than blocking the batch.
type FailedPOIRow struct {
	bun.BaseModel `bun:"table:failed_pois"`

	ID           string    `bun:"id,pk"`
	RunID        string    `bun:"run_id,notnull"`
	JobID        string    `bun:"job_id,notnull"`
	POIJSON      string    `bun:"poi_json,notnull"`
	ErrorMessage string    `bun:"error_message,notnull"`
	ErrorContext string    `bun:"error_context,notnull,default:''"`
	FailedAt     time.Time `bun:"failed_at,notnull"`
	Status       string    `bun:"status,notnull,default:'unresolved'"`
}
