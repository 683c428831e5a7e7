package telehealth

import (
	"errors"
	"fmt"
	"time"
)

// Validation and lifecycle errors. Handlers map these onto HTTP statuses;
// callers inspect them with errors.Is / errors.As.
var (
	ErrNotFound          = errors.New("session not found")
	ErrForbidden         = errors.New("user is not a participant of this session")
	ErrInvalidDuration   = errors.New("duration must be between 15 and 120 minutes")
	ErrInvalidParties    = errors.New("patient and therapist must be distinct, non-empty ids")
	ErrSessionClosed     = errors.New("session is in a terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TooEarlyError rejects a join attempted before the admission window opens.
// NotBefore is the earliest instant at which the join would be accepted.
type TooEarlyError struct {
	NotBefore time.Time
}

func (e *TooEarlyError) Error() string {
	return fmt.Sprintf("join window not open until %s", e.NotBefore.Format(time.RFC3339))
}

// StorageError wraps a session-store failure that the service could not
// absorb.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("session store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
