package config

import "fmt"

// Validate checks the paths, counts, sizes and triangulation factors below
// for a sane value; backoff, interval and lock-duration settings are not
// checked.
// It collects as many problems as it can before returning, the same
// "gather everything" approach the teacher's validator.go uses.
func (c *Config) Validate() error {
	var errs []error

	if c.Run.TargetRoot == "" {
		errs = append(errs, newValidationError("run.target_root", fmt.Errorf("must not be empty")))
	}
	if c.File.MaxSizeBytes <= 0 {
		errs = append(errs, newValidationError("file.max_size_bytes", fmt.Errorf("must be positive")))
	}
	if c.LLM.Concurrency <= 0 {
		errs = append(errs, newValidationError("llm.concurrency", fmt.Errorf("must be positive")))
	}
	if c.LLM.ContextBudgetTokens <= 0 {
		errs = append(errs, newValidationError("llm.context_budget_tokens", fmt.Errorf("must be positive")))
	}
	if c.LLM.MaxAttempts <= 0 {
		errs = append(errs, newValidationError("llm.max_attempts", fmt.Errorf("must be positive")))
	}
	if c.Queue.DefaultAttempts <= 0 {
		errs = append(errs, newValidationError("queue.default_attempts", fmt.Errorf("must be positive")))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, newValidationError("outbox.batch_size", fmt.Errorf("must be positive")))
	}
	if c.Triangulation.Threshold < 0 || c.Triangulation.Threshold > 1 {
		errs = append(errs, newValidationError("triangulation.threshold", fmt.Errorf("must be within [0,1]")))
	}
	if c.Triangulation.AgreementBoost < 0 || c.Triangulation.AgreementBoost > 1 {
		errs = append(errs, newValidationError("triangulation.agreement_boost", fmt.Errorf("must be within [0,1]")))
	}
	if c.Triangulation.DisagreementPenalty < 0 || c.Triangulation.DisagreementPenalty > 1 {
		errs = append(errs, newValidationError("triangulation.disagreement_penalty", fmt.Errorf("must be within [0,1]")))
	}
	if c.Graph.BatchSize <= 0 {
		errs = append(errs, newValidationError("graph.batch_size", fmt.Errorf("must be positive")))
	}
	if c.Store.Path == "" {
		errs = append(errs, newValidationError("store.path", fmt.Errorf("must not be empty")))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, newValidationError("redis.addr", fmt.Errorf("must not be empty")))
	}

	if len(errs) == 0 {
		return nil
	}
	msg := "invalid configuration:"
	for _, e := range errs {
		msg += "\n  - " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
