package types

import "fmt"

// ErrValidationFailed indicates a payload that is out of range, malformed,
// too far away, or carrying a stale version. No state was changed.
type ErrValidationFailed struct {
	Reason string
}

func (e *ErrValidationFailed) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func IsValidationFailed(err error) bool {
	_, ok := err.(*ErrValidationFailed)
	return ok
}

// ErrNotFound indicates a referenced peer, mission, instance or apartment
// does not exist.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

// ErrConflict indicates a request that was rejected for a state-dependent
// reason: a denied transfer, an already-executed dialogue choice, a refused
// apartment entry.
type ErrConflict struct {
	Reason string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

func IsConflict(err error) bool {
	_, ok := err.(*ErrConflict)
	return ok
}

// ErrCapacityExceeded indicates a bounded resource is full.
type ErrCapacityExceeded struct {
	Resource string
}

func (e *ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("capacity exceeded: %s", e.Resource)
}

func IsCapacityExceeded(err error) bool {
	_, ok := err.(*ErrCapacityExceeded)
	return ok
}

// ErrRateLimited indicates fire-rate or ability-use spam. It contributes to
// the sender's anomaly tally but does not interrupt gameplay.
type ErrRateLimited struct {
	Reason string
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited: %s", e.Reason)
}

func IsRateLimited(err error) bool {
	_, ok := err.(*ErrRateLimited)
	return ok
}
