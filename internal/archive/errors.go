package archive

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrValidation marks malformed or conflicting caller input.
	ErrValidation = errors.New("archive: validation failed")
	// ErrNotFound marks a reference that does not exist or belongs to another owner.
	ErrNotFound = errors.New("archive: not found")
	// ErrStorage marks a failed durable write; partial writes have been rolled back.
	ErrStorage = errors.New("archive: storage failure")

	errMissingDatabase     = errors.New("database handle is required")
	errMissingContentStore = errors.New("content store is required")
	errMissingIDProvider   = errors.New("id provider is required")
	errMissingUserID       = errors.New("user identifier is required")
	errEmptyContent        = errors.New("content is empty")

	noOpLogger = zap.NewNop()
)

// ServiceError carries a stable operation code alongside the error kind and cause.
type ServiceError struct {
	code string
	kind error
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes both the kind sentinel and the underlying cause to errors.Is.
func (e *ServiceError) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if e.kind != nil {
		unwrapped = append(unwrapped, e.kind)
	}
	if e.err != nil {
		unwrapped = append(unwrapped, e.err)
	}
	return unwrapped
}

// Code returns the "<operation>.<reason>" identifier of the failure.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the taxonomy sentinel of the failure.
func (e *ServiceError) Kind() error {
	return e.kind
}

// NewServiceError builds a ServiceError coded "<operation>.<reason>". Packages layered on the
// archive use it so one error mapping covers them all.
func NewServiceError(operation, reason string, kind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, kind: kind, err: cause}
}

func newServiceError(operation, reason string, kind, cause error) error {
	return NewServiceError(operation, reason, kind, cause)
}

// passThrough keeps an already classified error intact and classifies anything else as kind.
func passThrough(operation, reason string, kind, err error) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	return newServiceError(operation, reason, kind, err)
}

func logServiceError(logger *zap.Logger, component, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error(component+" error", attrs...)
}
