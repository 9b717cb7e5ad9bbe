package fileanalysis

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cogtri/pipeline/internal/model"
)

const systemPrompt = `You are a static-analysis assistant. Given one chunk of source code, return
strict JSON (no markdown fences, no commentary) with this exact shape:
{
  "pois": [{"type": "...", "name": "...", "qualified_name": "...", "signature": "...", "start_line": 0, "end_line": 0}],
  "relationships": [{"source_qn": "...", "target_qn": "...", "type": "...", "confidence": 0.0, "explanation": "..."}]
}
Only report relationships whose source and target are both present in this chunk.
Valid "type" values for pois: File, Function, Class, Variable, Method, Table, Package, Interface.
Valid "type" values for relationships: CONTAINS, CALLS, USES, IMPORTS, EXPORTS, EXTENDS, IMPLEMENTS, DEFINES, DEPENDS_ON.`

func buildUserPrompt(filePath string, chunk string) string {
	return fmt.Sprintf("File: %s\n\n%s", filePath, chunk)
}

// correctionPrompt embeds the offending response and validator error so
// the next LLM attempt can repair its own output (spec.md §4.7).
func correctionPrompt(original, offending, validatorErr string) string {
	return fmt.Sprintf(
		"Your previous response failed validation.\n\nOriginal request:\n%s\n\nYour response:\n%s\n\nValidation error:\n%s\n\nReturn corrected strict JSON only.",
		original, offending, validatorErr,
	)
}

type poiDTO struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	QualifiedName string `json:"qualified_name"`
	Signature     string `json:"signature"`
	StartLine     int    `json:"start_line"`
	EndLine       int    `json:"end_line"`
}

type relationshipDTO struct {
	SourceQN    string  `json:"source_qn"`
	TargetQN    string  `json:"target_qn"`
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

type chunkResponse struct {
	POIs          []poiDTO          `json:"pois"`
	Relationships []relationshipDTO `json:"relationships"`
}

// parseChunkResponse decodes the sanitized LLM response and drops any
// entry whose type is outside the allow-list, logging a warning rather
// than failing the whole chunk — one bad entry should not sink every
// other POI the model correctly identified.
func parseChunkResponse(raw json.RawMessage) (chunkResponse, error) {
	var resp chunkResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return chunkResponse{}, fmt.Errorf("decoding chunk response: %w", err)
	}

	validPOIs := resp.POIs[:0]
	for _, p := range resp.POIs {
		if !model.ValidPOITypes[model.POIType(p.Type)] {
			slog.Warn("dropping poi with unknown type", "type", p.Type, "name", p.Name)
			continue
		}
		validPOIs = append(validPOIs, p)
	}
	resp.POIs = validPOIs

	validRels := resp.Relationships[:0]
	for _, r := range resp.Relationships {
		if !model.ValidRelationshipTypes[model.RelationshipType(r.Type)] {
			slog.Warn("dropping relationship with unknown type", "type", r.Type)
			continue
		}
		validRels = append(validRels, r)
	}
	resp.Relationships = validRels

	return resp, nil
}
