// Package model defines the plain data types shared across the pipeline:
// POIs, relationship candidates, evidence, and the other entities named in
// spec.md §3. Storage-layer structs (internal/store) embed these; workers
// and the triangulation engine operate on them directly so the core
// algorithm has no dependency on how a row happens to be persisted.
package model

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// FileStatus is the lifecycle state of a File record.
type FileStatus string

const (
	FileStatusPending   FileStatus = "pending"
	FileStatusAnalysing FileStatus = "analysing"
	FileStatusCompleted FileStatus = "completed"
	FileStatusFailed    FileStatus = "failed"
)

// POIType enumerates the allow-listed kinds of Point of Interest.
// Matches the node-label allow-list in spec.md §6/§7.
type POIType string

const (
	POIFile      POIType = "File"
	POIFunction  POIType = "Function"
	POIClass     POIType = "Class"
	POIVariable  POIType = "Variable"
	POIMethod    POIType = "Method"
	POITable     POIType = "Table"
	POIPackage   POIType = "Package"
	POIInterface POIType = "Interface"
)

// ValidPOITypes is the fixed allow-list used to reject unknown labels
// before any graph query is built (spec.md §7).
var ValidPOITypes = map[POIType]bool{
	POIFile: true, POIFunction: true, POIClass: true, POIVariable: true,
	POIMethod: true, POITable: true, POIPackage: true, POIInterface: true,
}

// RelationshipType enumerates the allow-listed edge types.
type RelationshipType string

const (
	RelContains   RelationshipType = "CONTAINS"
	RelCalls      RelationshipType = "CALLS"
	RelUses       RelationshipType = "USES"
	RelImports    RelationshipType = "IMPORTS"
	RelExports    RelationshipType = "EXPORTS"
	RelExtends    RelationshipType = "EXTENDS"
	RelImplements RelationshipType = "IMPLEMENTS"
	RelDefines    RelationshipType = "DEFINES"
	RelDependsOn  RelationshipType = "DEPENDS_ON"
)

// ValidRelationshipTypes is the fixed allow-list for edge types.
var ValidRelationshipTypes = map[RelationshipType]bool{
	RelContains: true, RelCalls: true, RelUses: true, RelImports: true,
	RelExports: true, RelExtends: true, RelImplements: true, RelDefines: true,
	RelDependsOn: true,
}

// Pass identifies one evidence-generating stage.
type Pass string

const (
	PassDeterministic Pass = "deterministic"
	PassIntraFile     Pass = "intra-file"
	PassIntraDir      Pass = "intra-dir"
	PassGlobal        Pass = "global"
)

// AllPasses is the default set of passes expected to contribute evidence
// to every relationship candidate, in priority order for the weighted
// mean (spec.md §4.6).
var AllPasses = []Pass{PassDeterministic, PassGlobal, PassIntraDir, PassIntraFile}

// POI is a named code entity discovered by a pass.
type POI struct {
	ID            string
	FileID        string
	RunID         string
	Type          POIType
	Name          string
	QualifiedName string
	Signature     string
	StartLine     int
	EndLine       int
}

// RelationshipCandidate is one pass's claim that a relationship exists.
// Emitted once per pass per candidate and accumulated in the evidence
// store (spec.md §3).
type RelationshipCandidate struct {
	RelHash        string
	SourceQN       string
	TargetQN       string
	Type           RelationshipType
	OriginatingPass Pass
	RawConfidence  float64
	Agrees         bool
	Explanation    string
}

// EvidenceItem is one pass's contribution to an evidence bundle.
type EvidenceItem struct {
	Pass          Pass      `json:"pass"`
	RawConfidence float64   `json:"raw_confidence"`
	Agrees        bool      `json:"agrees"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// DirectorySummary is the LLM-produced summary of one directory's POIs,
// consumed (not raw POIs) by the global-resolution pass.
type DirectorySummary struct {
	RunID    string
	DirPath  string
	Summary  string
	POICount int
}
