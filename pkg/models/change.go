package models

import "time"

// PermissionChange is one reversible remediation step. RollbackSQL is the
// exact semantic inverse of SQL. Changes are produced by the planner and
// consumed, never mutated, by the executor.
type PermissionChange struct {
	SQL         string     `json:"sql"`
	RollbackSQL string     `json:"rollback_sql"`
	TargetType  ObjectType `json:"target_type"`
	TargetName  string     `json:"target_name"`
	Description string     `json:"description"`
	RiskLevel   RiskLevel  `json:"risk_level"`
}

// OutcomeStatus is the terminal state of one apply invocation.
type OutcomeStatus string

const (
	// OutcomeDryRun means no statement was issued.
	OutcomeDryRun OutcomeStatus = "dry_run"
	// OutcomeCommitted means the transaction committed; every change in the
	// applied list is persisted.
	OutcomeCommitted OutcomeStatus = "committed"
	// OutcomeRolledBack means the transaction was rolled back; nothing from
	// this run is persisted.
	OutcomeRolledBack OutcomeStatus = "rolled_back"
	// OutcomeCancelled means a cancellation signal arrived between plan
	// steps and the transaction was rolled back.
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// ApplyError records one failed change statement.
type ApplyError struct {
	Index   int              `json:"index"`
	Change  PermissionChange `json:"change"`
	Message string           `json:"message"`
}

// FixOutcome is the permanent record of what one apply invocation actually
// did, as distinct from what was planned. Invariant: applied plus
// errored-but-continued changes are a subset of the plan, in original plan
// order.
type FixOutcome struct {
	Status    OutcomeStatus      `json:"status"`
	Applied   []PermissionChange `json:"applied"`
	Skipped   []PermissionChange `json:"skipped"`
	Errors    []ApplyError       `json:"errors"`
	Timestamp time.Time          `json:"timestamp"`
}

// Persisted reports whether any change from this run is visible in the
// database.
func (o *FixOutcome) Persisted() bool {
	return o.Status == OutcomeCommitted && len(o.Applied) > 0
}
