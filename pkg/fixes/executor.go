package fixes

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dbsentry/pgauditor/pkg/apperrors"
	"github.com/dbsentry/pgauditor/pkg/database"
	"github.com/dbsentry/pgauditor/pkg/logging"
	"github.com/dbsentry/pgauditor/pkg/models"
)

// State is the executor's apply-run state. A run moves Idle -> Executing and
// terminates in Committed, RolledBack, or Cancelled; AwaitingDecision is the
// transient state while a failure decision is pending.
type State int

const (
	StateIdle State = iota
	StateExecuting
	StateAwaitingDecision
	StateCommitted
	StateRolledBack
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateAwaitingDecision:
		return "awaiting_decision"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Decider resolves what to do when a statement fails mid-plan. Returning
// true keeps executing the remaining statements; false rolls everything back.
type Decider interface {
	ContinueAfterError(index int, change models.PermissionChange, err error) bool
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(index int, change models.PermissionChange, err error) bool

func (f DeciderFunc) ContinueAfterError(index int, change models.PermissionChange, err error) bool {
	return f(index, change, err)
}

// ApplyOptions control one apply run.
type ApplyOptions struct {
	// DryRun logs every statement without opening a transaction.
	DryRun bool
	// Interactive consults Decider on each failure instead of aborting.
	Interactive bool
	// Decider is required when Interactive is set.
	Decider Decider
	// Progress, when set, is called before each statement executes.
	Progress func(index, total int, change models.PermissionChange)
}

// Executor applies change plans against one session. All statements of a
// plan run inside a single transaction so a committed outcome reflects the
// whole surviving set and a rolled-back outcome reflects nothing.
type Executor struct {
	sess   database.Session
	logger *zap.Logger
	state  State
}

// NewExecutor creates an executor bound to sess. A nil logger becomes a no-op.
func NewExecutor(sess database.Session, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{sess: sess, logger: logger, state: StateIdle}
}

// State reports the state of the most recent apply run.
func (e *Executor) State() State { return e.state }

// Apply executes a plan. Autocommit is forced off for the duration so every
// statement joins one implicit transaction, and the session's previous
// autocommit setting is restored on every exit path. A failed statement
// rolls back to a savepoint taken just before it, keeping the transaction
// usable when the decider opts to continue.
//
// The returned outcome always accounts for the full plan: on commit,
// applied plus errored changes cover it; on rollback or cancellation every
// change lands in skipped because nothing persisted.
func (e *Executor) Apply(ctx context.Context, plan []models.PermissionChange, opts ApplyOptions) (*models.FixOutcome, error) {
	outcome := &models.FixOutcome{Timestamp: time.Now().UTC()}

	if opts.DryRun {
		e.state = StateIdle
		outcome.Status = models.OutcomeDryRun
		for i, change := range plan {
			e.logger.Info("dry run",
				zap.Int("step", i+1),
				zap.Int("total", len(plan)),
				zap.String("sql", logging.SanitizeStatement(change.SQL)))
			outcome.Skipped = append(outcome.Skipped, change)
		}
		return outcome, nil
	}

	if len(plan) == 0 {
		e.state = StateCommitted
		outcome.Status = models.OutcomeCommitted
		return outcome, nil
	}

	prevAutocommit := e.sess.Autocommit()
	if err := e.sess.SetAutocommit(false); err != nil {
		return nil, err
	}
	defer func() {
		if err := e.sess.SetAutocommit(prevAutocommit); err != nil {
			e.logger.Warn("failed to restore autocommit", zap.Error(err))
		}
	}()

	e.state = StateExecuting
	for i, change := range plan {
		if err := ctx.Err(); err != nil {
			return e.abort(outcome, plan, models.OutcomeCancelled, StateCancelled, err)
		}
		if opts.Progress != nil {
			opts.Progress(i, len(plan), change)
		}

		if err := e.sess.Exec(ctx, "SAVEPOINT fix_step"); err != nil {
			return e.abort(outcome, plan, models.OutcomeRolledBack, StateRolledBack, err)
		}

		e.logger.Info("applying change",
			zap.Int("step", i+1),
			zap.Int("total", len(plan)),
			zap.String("target", change.TargetName),
			zap.String("sql", logging.SanitizeStatement(change.SQL)))

		if err := e.sess.Exec(ctx, change.SQL); err != nil {
			execErr := &apperrors.StatementExecutionError{Index: i, SQL: change.SQL, Err: err}
			outcome.Errors = append(outcome.Errors, models.ApplyError{
				Index:   i,
				Change:  change,
				Message: err.Error(),
			})
			e.logger.Error("statement failed",
				zap.Int("step", i+1),
				zap.String("sql", logging.SanitizeStatement(change.SQL)),
				zap.String("error", logging.SanitizeError(err)))

			e.state = StateAwaitingDecision
			if !opts.Interactive || opts.Decider == nil || !opts.Decider.ContinueAfterError(i, change, execErr) {
				return e.abort(outcome, plan, models.OutcomeRolledBack, StateRolledBack, nil)
			}
			// Restore the transaction to the pre-statement savepoint and
			// keep going with the remaining statements.
			if err := e.sess.Exec(ctx, "ROLLBACK TO SAVEPOINT fix_step"); err != nil {
				return e.abort(outcome, plan, models.OutcomeRolledBack, StateRolledBack, err)
			}
			e.state = StateExecuting
			outcome.Skipped = append(outcome.Skipped, change)
			continue
		}

		outcome.Applied = append(outcome.Applied, change)
	}

	if err := e.sess.Commit(ctx); err != nil {
		return e.abort(outcome, plan, models.OutcomeRolledBack, StateRolledBack, err)
	}

	e.state = StateCommitted
	outcome.Status = models.OutcomeCommitted
	e.logger.Info("plan committed",
		zap.Int("applied", len(outcome.Applied)),
		zap.Int("skipped", len(outcome.Skipped)),
		zap.Int("errors", len(outcome.Errors)))
	return outcome, nil
}

// abort rolls the open transaction back and rewrites the outcome so that no
// change is reported as applied: every planned change moves to skipped while
// recorded errors are preserved.
func (e *Executor) abort(outcome *models.FixOutcome, plan []models.PermissionChange, status models.OutcomeStatus, state State, cause error) (*models.FixOutcome, error) {
	if err := e.sess.Rollback(context.Background()); err != nil {
		e.logger.Error("rollback failed", zap.String("error", logging.SanitizeError(err)))
	}
	e.state = state
	outcome.Status = status
	outcome.Applied = nil
	outcome.Skipped = append([]models.PermissionChange(nil), plan...)
	e.logger.Warn("plan aborted",
		zap.String("status", string(status)),
		zap.Int("errors", len(outcome.Errors)))
	return outcome, cause
}
