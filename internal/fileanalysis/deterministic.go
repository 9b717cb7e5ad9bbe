package fileanalysis

import (
	"regexp"
	"strings"

	"github.com/cogtri/pipeline/internal/model"
)

// identifierCallRe matches a bare function-call site: an identifier
// immediately followed by an opening parenthesis. This is the one call
// shape a syntactic scan can recognise without a language-specific
// parser (spec.md §2's "deterministic syntactic" pass).
var identifierCallRe = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// detectDeterministicCalls finds same-file call sites of other POIs by
// name, attributing each site to its enclosing function/method POI via
// line ranges, and emits a CALLS candidate for each distinct
// caller/callee pair found. This is the only non-LLM evidence pass
// (spec.md §8 scenario 3: "emitted by both the deterministic pass (raw
// 1.0) and the intra-dir LLM pass"); every candidate it emits carries
// the pass's fixed raw confidence of 1.0, since a textual match is
// either present or it is not.
func detectDeterministicCalls(pois []poiDTO, content string) []relationshipDTO {
	callable := make(map[string]poiDTO, len(pois))
	for _, p := range pois {
		switch model.POIType(p.Type) {
		case model.POIFunction, model.POIMethod:
			callable[p.Name] = p
		}
	}
	if len(callable) == 0 {
		return nil
	}
	lines := strings.Split(content, "\n")

	var rels []relationshipDTO
	seen := make(map[string]bool)
	for _, caller := range pois {
		switch model.POIType(caller.Type) {
		case model.POIFunction, model.POIMethod:
		default:
			continue
		}
		if caller.StartLine < 1 || caller.EndLine < caller.StartLine {
			continue
		}
		end := caller.EndLine
		if end > len(lines) {
			end = len(lines)
		}
		for ln := caller.StartLine; ln <= end; ln++ {
			for _, m := range identifierCallRe.FindAllStringSubmatch(lines[ln-1], -1) {
				callee, ok := callable[m[1]]
				if !ok || callee.QualifiedName == caller.QualifiedName {
					continue
				}
				key := caller.QualifiedName + "->" + callee.QualifiedName
				if seen[key] {
					continue
				}
				seen[key] = true
				rels = append(rels, relationshipDTO{
					SourceQN:   caller.QualifiedName,
					TargetQN:   callee.QualifiedName,
					Type:       string(model.RelCalls),
					Confidence: 1.0,
				})
			}
		}
	}
	return rels
}
