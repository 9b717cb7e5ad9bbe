package graphbuilder

import (
	"fmt"

	"github.com/cogtri/pipeline/internal/model"
)

// validateLabel rejects any POI label outside model.ValidPOITypes before
// a Cypher label is ever interpolated into a query string (spec.md
// §6/§7: the allow-list is the injection defense, since labels cannot be
// parameterised the way values can).
func validateLabel(label string) error {
	if !model.ValidPOITypes[model.POIType(label)] {
		return fmt.Errorf("%w: %s", errDisallowedLabel, label)
	}
	return nil
}

// validateRelType rejects any relationship type outside
// model.ValidRelationshipTypes for the same reason.
func validateRelType(relType string) error {
	if !model.ValidRelationshipTypes[model.RelationshipType(relType)] {
		return fmt.Errorf("%w: %s", errDisallowedRelType, relType)
	}
	return nil
}
