package llmclient

import "errors"

var (
	// ErrSchemaValidation is returned when a model response cannot be
	// parsed into the expected JSON shape after sanitization.
	ErrSchemaValidation = errors.New("llmclient: response failed schema validation")
	// ErrCircuitOpen surfaces gobreaker's open-circuit state as a typed
	// sentinel so callers (and the dead-letter path) can tell a breaker
	// trip apart from an ordinary call failure.
	ErrCircuitOpen = errors.New("llmclient: circuit breaker open")
	// ErrBudgetExceeded names a prompt over the configured context token
	// budget. No function in this package returns it: Complete does not
	// check a prompt's size.
	ErrBudgetExceeded = errors.New("llmclient: prompt exceeds context budget")
)
