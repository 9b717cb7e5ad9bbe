// Package resolution implements the directory-aggregation,
// directory-resolution, and global-resolution workers (spec.md §4.5):
// the stages between per-file analysis and the triangulation engine that
// widen the LLM's view from one file, to one directory, to the whole run.
package resolution

import "github.com/cogtri/pipeline/internal/model"

// directoryAggregatePayload mirrors internal/fileanalysis's payload of
// the same name; it is the "a file finished" signal the aggregation
// worker consumes from the directory-aggregation queue.
type directoryAggregatePayload struct {
	RunID           string `json:"run_id"`
	DirPath         string `json:"dir_path"`
	CompletedFileID string `json:"completed_file_id"`
}

// directoryResolvePayload is the directory-resolution job body, enqueued
// once a directory's file count reaches zero.
type directoryResolvePayload struct {
	RunID   string `json:"run_id"`
	DirPath string `json:"dir_path"`
}

// globalResolvePayload is the global-resolution job body, enqueued once
// the run's root job unblocks (every directory resolved).
type globalResolvePayload struct {
	RunID string `json:"run_id"`
}

// validationPayload matches internal/fileanalysis's payload shape for
// the validation-queue (spec.md §4.3).
type validationPayload struct {
	RunID    string             `json:"run_id"`
	RelHash  string             `json:"rel_hash"`
	SourceQN string             `json:"source_qn"`
	TargetQN string             `json:"target_qn"`
	Type     string             `json:"type"`
	Evidence model.EvidenceItem `json:"evidence"`
}

// relationshipDTO is the LLM's reported relationship shape, shared by
// the directory- and global-resolution prompts.
type relationshipDTO struct {
	SourceQN    string  `json:"source_qn"`
	TargetQN    string  `json:"target_qn"`
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// directoryResponse is the strict JSON shape requested of the
// directory-resolution prompt: intra-directory relationships plus a
// short summary consumed later by global resolution instead of raw POIs.
type directoryResponse struct {
	Relationships []relationshipDTO `json:"relationships"`
	Summary       string            `json:"summary"`
}

// globalResponse is the strict JSON shape requested of the
// global-resolution prompt: cross-directory relationships only.
type globalResponse struct {
	Relationships []relationshipDTO `json:"relationships"`
}

func validTypes(rels []relationshipDTO) []relationshipDTO {
	kept := rels[:0]
	for _, r := range rels {
		if model.ValidRelationshipTypes[model.RelationshipType(r.Type)] {
			kept = append(kept, r)
		}
	}
	return kept
}
