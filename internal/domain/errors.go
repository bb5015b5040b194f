package domain

// Error kind strings surfaced to tool callers. Callers branch on the kind,
// not on the message.
const (
	KindValidationError = "ValidationError"
	KindSessionError    = "SessionError"
	KindDatabaseError   = "DatabaseError"
)

// ValidationError reports malformed or out-of-range input. It is raised at
// the earliest possible point and never wrapped.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Kind returns the stable error kind for API responses.
func (e *ValidationError) Kind() string { return KindValidationError }

// SessionError reports a missing, unknown, or expired session token. The
// caller must re-authenticate.
type SessionError struct {
	Message   string
	SessionID string
}

func (e *SessionError) Error() string { return e.Message }

// Kind returns the stable error kind for API responses.
func (e *SessionError) Kind() string { return KindSessionError }

// DatabaseError reports that the store was unreachable or a write failed.
// Query optionally carries the failing statement for diagnostics.
type DatabaseError struct {
	Message string
	Query   string
	Cause   error
}

func (e *DatabaseError) Error() string { return e.Message }

func (e *DatabaseError) Unwrap() error { return e.Cause }

// Kind returns the stable error kind for API responses.
func (e *DatabaseError) Kind() string { return KindDatabaseError }

// Kinded is implemented by all domain errors; it exposes the stable kind
// string the tool surface reports alongside the message.
type Kinded interface {
	error
	Kind() string
}
