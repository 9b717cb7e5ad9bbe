package resolution

import (
	"fmt"
	"strings"

	"github.com/cogtri/pipeline/internal/store"
)

const directorySystemPrompt = `You are a static-analysis assistant. Given the points of interest (POIs)
discovered across every file in one directory, return strict JSON (no markdown fences, no commentary)
with this exact shape:
{
  "relationships": [{"source_qn": "...", "target_qn": "...", "type": "...", "confidence": 0.0, "explanation": "..."}],
  "summary": "..."
}
Only report relationships whose endpoints are in different files, both within this directory.
"summary" is a concise paragraph describing the directory's purpose and exported surface, for
readers who will never see the raw POI list.
Valid "type" values for relationships: CONTAINS, CALLS, USES, IMPORTS, EXPORTS, EXTENDS, IMPLEMENTS, DEFINES, DEPENDS_ON.`

const globalSystemPrompt = `You are a static-analysis assistant. Given a summary of every directory in a
codebase, return strict JSON (no markdown fences, no commentary) with this exact shape:
{
  "relationships": [{"source_qn": "...", "target_qn": "...", "type": "...", "confidence": 0.0, "explanation": "..."}]
}
Only report relationships between qualified names that plausibly cross directory boundaries;
source_qn and target_qn must use the same qualified-name style you infer from the summaries.
Valid "type" values for relationships: CONTAINS, CALLS, USES, IMPORTS, EXPORTS, EXTENDS, IMPLEMENTS, DEFINES, DEPENDS_ON.`

func buildDirectoryPrompt(dirPath string, pois []store.POIRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Directory: %s\n\n", dirPath)
	for _, p := range pois {
		fmt.Fprintf(&b, "- [%s] %s (%s) lines %d-%d\n", p.Type, p.QualifiedName, p.Signature, p.StartLine, p.EndLine)
	}
	return b.String()
}

func buildGlobalPrompt(summaries []store.DirectorySummaryRow) string {
	var b strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&b, "## %s\n%s\n\n", s.DirPath, s.Summary)
	}
	return b.String()
}
