package errs

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrRecordExists   = errors.New("record already exists")
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrInvalidInput   = errors.New("invalid input")
)

// Class buckets a failure for retry policy. External calls (AI provider,
// object store) classify every error into exactly one class; the owning
// state machine keys its retries off that class.
type Class string

const (
	ClassTransientExternal     Class = "transient_external"
	ClassInvalidInput          Class = "invalid_input"
	ClassQuotaExceeded         Class = "quota_exceeded"
	ClassStorage               Class = "storage_error"
	ClassInternalInconsistency Class = "internal_inconsistency"
)

// Retryable reports whether a bounded retry budget applies to the class.
func (c Class) Retryable() bool {
	return c == ClassTransientExternal || c == ClassStorage
}

type classifiedError struct {
	class Class
	err   error
}

func (e *classifiedError) Error() string { return string(e.class) + ": " + e.err.Error() }

func (e *classifiedError) Unwrap() error { return e.err }

// Classify wraps err with a class. The original error stays reachable
// through errors.Is/As.
func Classify(class Class, err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: class, err: err}
}

// ClassOf extracts the class of err. Unclassified errors count as internal
// inconsistencies - surfacing them as terminal failures beats swallowing.
func ClassOf(err error) Class {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return ClassQuotaExceeded
	}
	if errors.Is(err, ErrInvalidInput) {
		return ClassInvalidInput
	}
	return ClassInternalInconsistency
}
