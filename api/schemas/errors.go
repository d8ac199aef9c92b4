package schemas

import (
	"errors"
	"fmt"
)

// -- Error Taxonomy --

var (
	// ErrInvalidState reports engine use out of lifecycle order.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnsupportedCapability reports a driver lacking script execution or screenshots.
	ErrUnsupportedCapability = errors.New("unsupported capability")
	// ErrNoMatchingElements reports a target that resolved to zero elements.
	ErrNoMatchingElements = errors.New("no matching elements")
	// ErrElementNotInteractable reports a pointer target that is not displayed.
	ErrElementNotInteractable = errors.New("element not interactable")
	// ErrTimeoutExceeded reports a bounded wait or poll that ran out of time.
	ErrTimeoutExceeded = errors.New("timeout exceeded")
	// ErrExpectationFailed reports an Expect assertion that did not hold.
	ErrExpectationFailed = errors.New("expectation failed")
	// ErrNotImplemented reports a fluent operation the backend cannot perform.
	ErrNotImplemented = errors.New("not implemented")
)

// ExpectationError carries the human-readable description of what was expected.
type ExpectationError struct {
	Description string
	Actual      string
}

func (e *ExpectationError) Error() string {
	if e.Actual != "" {
		return fmt.Sprintf("expectation failed: expected %s, got %s", e.Description, e.Actual)
	}
	return fmt.Sprintf("expectation failed: expected %s", e.Description)
}

// Is makes errors.Is(err, ErrExpectationFailed) hold for every ExpectationError.
func (e *ExpectationError) Is(target error) bool {
	return target == ErrExpectationFailed
}
