package graphbuilder

import "errors"

var (
	// errDisallowedLabel is returned when a graph-ingestion node event
	// names a POI label outside model.ValidPOITypes.
	errDisallowedLabel = errors.New("graphbuilder: disallowed node label")
	// errDisallowedRelType is returned when a graph-ingestion edge event
	// names a relationship type outside model.ValidRelationshipTypes.
	errDisallowedRelType = errors.New("graphbuilder: disallowed relationship type")
)
