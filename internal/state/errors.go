package state

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a missing state file. Callers treat it as "start
// fresh" rather than a failure.
var ErrNotFound = errors.New("state file not found")

// ErrLockTimeout reports that the lock retry budget was exhausted.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// LockError carries the contention details behind an ErrLockTimeout.
type LockError struct {
	Path     string
	Attempts int
}

func (e *LockError) Error() string {
	return fmt.Sprintf("could not acquire %s after %d attempts", e.Path, e.Attempts)
}

func (e *LockError) Unwrap() error { return ErrLockTimeout }

// FormatError reports a state file whose content cannot be used. Syntax
// distinguishes "the text is not parseable" from "the shape is wrong";
// callers that only care that the file is bad can match the type alone.
type FormatError struct {
	Path   string
	Reason string
	Syntax bool
}

func (e *FormatError) Error() string {
	kind := "invalid state format"
	if e.Syntax {
		kind = "invalid state syntax"
	}
	return fmt.Sprintf("%s in %s: %s", kind, e.Path, e.Reason)
}
