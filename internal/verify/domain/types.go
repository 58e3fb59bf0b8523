// Package domain contains the verification reconciliation engine.
package domain

import (
	"github.com/pendergraft/rolewarden/internal/config"
	"github.com/pendergraft/rolewarden/internal/evidence"
)

// TargetOutcome is the engine's judgement for one target
type TargetOutcome struct {
	Target   config.Target
	Evidence evidence.Result
	Detail   string
	// Retryable marks an unsatisfied entry caused by a transient provider
	// failure. Callers must render it as "try again later", never as a
	// hard "not eligible".
	Retryable bool
}

// ReconciliationResult is the four-way partition of all checked targets
// for one address in one run.
type ReconciliationResult struct {
	Address   string
	DiscordID string

	// NewlySatisfied transitioned false->true this run; the role must be granted.
	NewlySatisfied []TargetOutcome
	// ConfirmedSatisfied were already satisfied and the role is held; no action.
	ConfirmedSatisfied []TargetOutcome
	// SatisfiedRoleMissing were already satisfied but the role is absent;
	// the role must be (re)granted.
	SatisfiedRoleMissing []TargetOutcome
	// Unsatisfied are not satisfied, with reason and current evidence.
	Unsatisfied []TargetOutcome

	// Attempts is the explicit-verification counter after this run
	// (zero for scheduled runs, which do not increment it).
	Attempts int64
}

// NeedsAction reports whether any role grants are pending
func (r *ReconciliationResult) NeedsAction() bool {
	return len(r.NewlySatisfied) > 0 || len(r.SatisfiedRoleMissing) > 0
}

// ApplyResult summarizes the role actions taken for a ReconciliationResult
type ApplyResult struct {
	Granted  int
	Repaired int
	Failed   int
}

// ReconcileOptions tunes a single reconcile call
type ReconcileOptions struct {
	// Explicit marks a user-invoked verification; it increments the
	// address's attempt counter. Scheduled re-checks leave it false.
	Explicit bool
	// TargetIDs restricts classification to a subset of configured
	// targets. Nil means all. Evidence is still fetched for the whole
	// bundle, so the cache stays shared between the paths.
	TargetIDs []string
}
