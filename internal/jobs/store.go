package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreateJob       = "jobs.create"
	opGetJob          = "jobs.get"
	opListJobs        = "jobs.list"
	opMarkProcessing  = "jobs.mark_processing"
	opMarkCompleted   = "jobs.mark_completed"
	opMarkFailed      = "jobs.mark_failed"
	opFailInterrupted = "jobs.fail_interrupted"

	reasonJobNotFound  = "job_not_found"
	reasonQueryFailed  = "query_failed"
	reasonUpdateFailed = "update_failed"
	reasonTransition   = "invalid_transition"
)

// Store persists Job rows and enforces the lifecycle with conditional updates.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider archive.IDProvider
	logger     *zap.Logger
}

// NewStore constructs a Store.
func NewStore(db *gorm.DB, idProvider archive.IDProvider, clock func() time.Time, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, newServiceError("jobs.store.new", "missing_database", errKindValidation, errMissingDatabase)
	}
	if idProvider == nil {
		return nil, newServiceError("jobs.store.new", "missing_id_provider", errKindValidation, errMissingIDProvider)
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, clock: clock, idProvider: idProvider, logger: logger}, nil
}

// Create inserts a QUEUED job.
func (s *Store) Create(ctx context.Context, jobType Type, userID, entityID, paramsJSON string) (Job, error) {
	jobID, err := s.idProvider.NewID()
	if err != nil {
		return Job{}, newServiceError(opCreateJob, "id_generation_failed", errKindStorage, err)
	}
	job := Job{
		JobID:              jobID,
		Type:               jobType,
		Status:             StatusQueued,
		UserID:             userID,
		AssociatedEntityID: entityID,
		ParamsJSON:         paramsJSON,
		SubmittedAt:        s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		logJobError(s.logger, opCreateJob, "insert_failed", err, zap.String("type", string(jobType)))
		return Job{}, newServiceError(opCreateJob, "insert_failed", errKindStorage, err)
	}
	return job, nil
}

// Get loads a job by id.
func (s *Store) Get(ctx context.Context, jobID string) (Job, error) {
	return s.get(s.db.WithContext(ctx).Where("job_id = ?", jobID))
}

// GetForUser loads a job only if it was submitted by userID.
func (s *Store) GetForUser(ctx context.Context, userID, jobID string) (Job, error) {
	return s.get(s.db.WithContext(ctx).Where("job_id = ? AND user_id = ?", jobID, userID))
}

func (s *Store) get(query *gorm.DB) (Job, error) {
	var job Job
	err := query.Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Job{}, newServiceError(opGetJob, reasonJobNotFound, errKindNotFound, nil)
	}
	if err != nil {
		logJobError(s.logger, opGetJob, reasonQueryFailed, err)
		return Job{}, newServiceError(opGetJob, reasonQueryFailed, errKindStorage, err)
	}
	return job, nil
}

// ListForUser returns the user's most recent jobs, newest first.
func (s *Store) ListForUser(ctx context.Context, userID string, limit int) ([]Job, error) {
	var jobs []Job
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("submitted_at DESC").
		Order("job_id DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		logJobError(s.logger, opListJobs, reasonQueryFailed, err)
		return nil, newServiceError(opListJobs, reasonQueryFailed, errKindStorage, err)
	}
	return jobs, nil
}

// ListByStatus returns every job in status, oldest submission first.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]Job, error) {
	var jobs []Job
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("submitted_at ASC").
		Order("job_id ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, newServiceError(opListJobs, reasonQueryFailed, errKindStorage, err)
	}
	return jobs, nil
}

// MarkProcessing moves a QUEUED job to PROCESSING and stamps started_at.
func (s *Store) MarkProcessing(ctx context.Context, jobID string) error {
	return s.transition(ctx, opMarkProcessing, jobID, StatusQueued, map[string]any{
		"status":     StatusProcessing,
		"started_at": s.clock().UTC(),
	})
}

// MarkCompleted moves a PROCESSING job to COMPLETED and stamps completed_at.
func (s *Store) MarkCompleted(ctx context.Context, jobID string) error {
	return s.transition(ctx, opMarkCompleted, jobID, StatusProcessing, map[string]any{
		"status":       StatusCompleted,
		"completed_at": s.clock().UTC(),
	})
}

// MarkFailed moves a PROCESSING job to FAILED with the failure message.
func (s *Store) MarkFailed(ctx context.Context, jobID, message string) error {
	return s.transition(ctx, opMarkFailed, jobID, StatusProcessing, map[string]any{
		"status":        StatusFailed,
		"completed_at":  s.clock().UTC(),
		"error_message": message,
	})
}

// FailInterrupted fails every job left PROCESSING by a previous process.
func (s *Store) FailInterrupted(ctx context.Context, message string) (int64, error) {
	now := s.clock().UTC()
	result := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("status = ?", StatusProcessing).
		Updates(map[string]any{
			"status":        StatusFailed,
			"completed_at":  now,
			"error_message": message,
		})
	if result.Error != nil {
		logJobError(s.logger, opFailInterrupted, reasonUpdateFailed, result.Error)
		return 0, newServiceError(opFailInterrupted, reasonUpdateFailed, errKindStorage, result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Store) transition(ctx context.Context, operation, jobID string, from Status, updates map[string]any) error {
	result := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("job_id = ? AND status = ?", jobID, from).
		Updates(updates)
	if result.Error != nil {
		logJobError(s.logger, operation, reasonUpdateFailed, result.Error, zap.String("job_id", jobID))
		return newServiceError(operation, reasonUpdateFailed, errKindStorage, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	current, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return newServiceError(operation, reasonTransition, ErrInvalidTransition,
		fmt.Errorf("job %s is %s, expected %s", jobID, current.Status, from))
}
