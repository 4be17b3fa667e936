package tools

import "errors"

// Delegate failure modes. Callers branch on these: a timeout may be retried
// with a smaller task, a dead process needs a fresh session.
var (
	// ErrTaskTimeout means the hard deadline elapsed; the session has been
	// aborted and shut down as a side effect.
	ErrTaskTimeout = errors.New("pi task timed out")
	// ErrProcessExited means Pi died mid-task.
	ErrProcessExited = errors.New("pi process exited during task")
)

// Approval gate failure modes, distinct so callers can tell "user said no"
// from "approval subsystem unavailable".
var (
	ErrDenied          = errors.New("tool call denied by user")
	ErrApprovalClosed  = errors.New("tool approval response channel closed")
	ErrApprovalTimeout = errors.New("tool approval timed out")
)
