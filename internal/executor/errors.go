package executor

import (
	"errors"
	"fmt"

	"flowcraft/backend/internal/models"
)

var (
	ErrElementNotFound = errors.New("element not found")
	ErrActionFailed    = errors.New("action failed")
	// ErrUnknownStep is returned for step types this build cannot execute.
	ErrUnknownStep = errors.New("unknown step type")
)

// ElementNotFoundError reports a locator that did not resolve within the
// retry budget.
type ElementNotFoundError struct {
	Locator  models.Locator
	Attempts int
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("Element not found with XPath: %s (after %d attempts)", e.Locator.XPath, e.Attempts)
}

func (e *ElementNotFoundError) Is(target error) bool { return target == ErrElementNotFound }

// ActionFailedError reports an element that was found but could not be
// acted on, or a page the executor could not reach.
type ActionFailedError struct {
	Step   models.StepType
	Reason string
	Err    error
}

func (e *ActionFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Step, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Step, e.Reason)
}

func (e *ActionFailedError) Is(target error) bool { return target == ErrActionFailed }

func (e *ActionFailedError) Unwrap() error { return e.Err }

func actionFailed(step models.StepType, reason string, err error) error {
	return &ActionFailedError{Step: step, Reason: reason, Err: err}
}
