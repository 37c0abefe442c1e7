// Package errors defines the centralized error taxonomy used across batty.
// The domain packages' error types satisfy BattyError so the CLI's
// exit-code mapping (internal/cmd/common.go) and the execution log can
// classify failures without resorting to string matching.
package errors

import (
	"errors"
	"fmt"
)

// Severity classifies how a failure should be surfaced to the operator.
type Severity int

const (
	// SeverityWarning indicates a recoverable condition worth logging.
	SeverityWarning Severity = iota
	// SeverityError indicates the current operation failed but the run
	// may continue (e.g. one phase in a DAG).
	SeverityError
	// SeverityFatal indicates the run cannot continue.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// BattyError is implemented by every error type defined in batty's domain
// packages. It lets callers classify a failure without type-switching on
// concrete types from every package.
type BattyError interface {
	error
	Unwrap() error
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

// baseError carries the fields common to every domain error type.
type baseError struct {
	op       string
	msg      string
	err      error
	severity Severity
	retry    bool
	userFace bool
}

func (e *baseError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.op, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.op, e.msg)
}

func (e *baseError) Unwrap() error      { return e.err }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retry }
func (e *baseError) IsUserFacing() bool { return e.userFace }

// RunError reports a failure in a single run's top-level lifecycle
// (config load, worktree provisioning, lease acquisition).
type RunError struct{ *baseError }

// OrchestratorError reports a failure inside the supervision loop:
// detector, policy engine, or Tier-2 delegation failures.
type OrchestratorError struct{ *baseError }

// MultiplexerError reports a tmux driver failure.
type MultiplexerError struct{ *baseError }

// BoardError reports a kanban-md parsing or layout resolution failure.
type BoardError struct{ *baseError }

// MergeError reports a merge queue rebase, test-gate, or fast-forward
// failure.
type MergeError struct{ *baseError }

// Tier2Error reports a supervisor-process delegation failure.
type Tier2Error struct{ *baseError }

// CompletionError reports a Completion Contract gate failure.
type CompletionError struct{ *baseError }

// ReviewError reports a Review Gate failure.
type ReviewError struct{ *baseError }

func newBase(op, msg string, err error, sev Severity, retry, userFace bool) *baseError {
	return &baseError{op: op, msg: msg, err: err, severity: sev, retry: retry, userFace: userFace}
}

// NewRunError builds a RunError. Fatal and non-retryable by default.
func NewRunError(op, msg string, err error) *RunError {
	return &RunError{newBase(op, msg, err, SeverityFatal, false, true)}
}

// NewOrchestratorError builds an OrchestratorError.
func NewOrchestratorError(op, msg string, err error) *OrchestratorError {
	return &OrchestratorError{newBase(op, msg, err, SeverityError, false, true)}
}

// NewMultiplexerError builds a MultiplexerError. Multiplexer failures are
// usually retryable (tmux may not have finished starting a pane).
func NewMultiplexerError(op, msg string, err error) *MultiplexerError {
	return &MultiplexerError{newBase(op, msg, err, SeverityError, true, false)}
}

// NewBoardError builds a BoardError.
func NewBoardError(op, msg string, err error) *BoardError {
	return &BoardError{newBase(op, msg, err, SeverityError, false, true)}
}

// NewMergeError builds a MergeError. Callers decide retryability via
// WithRetryable since rebase conflicts are not retryable but transient
// git-lock contention is.
func NewMergeError(op, msg string, err error) *MergeError {
	return &MergeError{newBase(op, msg, err, SeverityError, false, true)}
}

// NewTier2Error builds a Tier2Error.
func NewTier2Error(op, msg string, err error) *Tier2Error {
	return &Tier2Error{newBase(op, msg, err, SeverityError, true, false)}
}

// NewCompletionError builds a CompletionError. Never retryable: the
// Completion Contract either holds or it doesn't.
func NewCompletionError(op, msg string, err error) *CompletionError {
	return &CompletionError{newBase(op, msg, err, SeverityError, false, true)}
}

// NewReviewError builds a ReviewError.
func NewReviewError(op, msg string, err error) *ReviewError {
	return &ReviewError{newBase(op, msg, err, SeverityError, false, true)}
}

// WithRetryable returns a copy of the error with IsRetryable overridden.
func WithRetryable(err BattyError, retryable bool) BattyError {
	switch e := err.(type) {
	case *RunError:
		b := *e.baseError
		b.retry = retryable
		return &RunError{&b}
	case *OrchestratorError:
		b := *e.baseError
		b.retry = retryable
		return &OrchestratorError{&b}
	case *MultiplexerError:
		b := *e.baseError
		b.retry = retryable
		return &MultiplexerError{&b}
	case *MergeError:
		b := *e.baseError
		b.retry = retryable
		return &MergeError{&b}
	case *Tier2Error:
		b := *e.baseError
		b.retry = retryable
		return &Tier2Error{&b}
	default:
		return err
	}
}

// IsAtLeast reports whether err wraps a BattyError whose severity is at least
// as severe as the threshold.
func IsAtLeast(err error, threshold Severity) bool {
	var be BattyError
	if !errors.As(err, &be) {
		return false
	}
	return be.Severity() >= threshold
}

// IsRetryable reports whether err wraps a BattyError marked retryable.
func IsRetryable(err error) bool {
	var be BattyError
	if errors.As(err, &be) {
		return be.IsRetryable()
	}
	return false
}

// Wrap annotates err with op/msg while preserving its BattyError
// classification when possible, otherwise falls back to a generic
// RunError at SeverityError.
func Wrap(op, msg string, err error) error {
	if err == nil {
		return nil
	}
	var be BattyError
	if errors.As(err, &be) {
		switch be.(type) {
		case *OrchestratorError:
			return NewOrchestratorError(op, msg, err)
		case *MultiplexerError:
			return NewMultiplexerError(op, msg, err)
		case *BoardError:
			return NewBoardError(op, msg, err)
		case *MergeError:
			return NewMergeError(op, msg, err)
		case *Tier2Error:
			return NewTier2Error(op, msg, err)
		case *CompletionError:
			return NewCompletionError(op, msg, err)
		case *ReviewError:
			return NewReviewError(op, msg, err)
		}
	}
	return NewRunError(op, msg, err)
}
