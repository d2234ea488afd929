package jobs

import (
	"errors"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"go.uber.org/zap"
)

var (
	// ErrProcessing marks a failure raised while a work item executed.
	ErrProcessing = errors.New("jobs: processing failed")
	// ErrInvalidTransition marks a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("jobs: invalid status transition")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingArchive    = errors.New("archive service is required")
	errMissingContent    = errors.New("content store is required")
	errMissingQueue      = errors.New("work queue is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingStore      = errors.New("job store is required")
	errTooFewSources     = errors.New("at least two sources required")
)

// ServiceError is the archive error type; job failures carry the same codes and kinds.
type ServiceError = archive.ServiceError

func newServiceError(operation, reason string, kind, cause error) error {
	return archive.NewServiceError(operation, reason, kind, cause)
}

// Validation, lookup and storage kinds are shared with archive.
var (
	errKindValidation = archive.ErrValidation
	errKindNotFound   = archive.ErrNotFound
	errKindStorage    = archive.ErrStorage
)

func logJobError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("job error", attrs...)
}
