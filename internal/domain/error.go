package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrReadDatabaseRow = errors.New("failed to read database row")

	// Store execution context
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Pipeline
	ErrLockNotAcquired  = errors.New("lock not acquired")
	ErrUnknownJobType   = errors.New("unknown job type")
	ErrInvalidPayload   = errors.New("invalid job payload")
	ErrJobFailed        = errors.New("job permanently failed")
	ErrTurnNotFinalized = errors.New("turn not finalized")

	// Flows
	ErrFlowNotFound = errors.New("flow config not found")
	ErrInvalidFlow  = errors.New("invalid flow config")
	ErrUnknownAgent = errors.New("unknown agent")

	// Channels
	ErrUnknownChannel = errors.New("unknown channel")
)

// permanentError marks a failure that would repeat identically on retry.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the scheduler fails the job without retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var p *permanentError
	if errors.As(err, &p) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
