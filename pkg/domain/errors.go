package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateExternalRef is returned by ExternalIngredientRefsRepo.Save when
	// a (source, external id) pair already exists.
	ErrDuplicateExternalRef = errors.New("external ingredient reference already exists")
	// ErrRateLimited signals that the caller must back off before retrying.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrTransactionClosed is returned when a repository is used with a
	// transaction context that has already been committed or rolled back.
	ErrTransactionClosed = errors.New("transaction already closed")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a missing referenced record.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InfrastructureError wraps failures of external collaborators such as the
// transaction driver or the rate-limited lookup service.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e InfrastructureError) Error() string {
	if e.Err == nil {
		return e.Op + ": infrastructure failure"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e InfrastructureError) Unwrap() error { return e.Err }

// AuthError reports an ownership mismatch between the caller and a record.
type AuthError struct {
	Entity EntityType
	ID     string
	UserID string
}

func (e AuthError) Error() string {
	return fmt.Sprintf("user %s may not access %s %s", e.UserID, e.Entity, e.ID)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsAuth reports whether err carries an AuthError.
func IsAuth(err error) bool {
	var ae AuthError
	return errors.As(err, &ae)
}

// IsInfrastructure reports whether err carries an InfrastructureError.
func IsInfrastructure(err error) bool {
	var ie InfrastructureError
	return errors.As(err, &ie)
}
