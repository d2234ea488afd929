package jobs

import (
	"context"
	"encoding/json"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"github.com/MarcoPoloResearchLab/folio/internal/content"
	"github.com/MarcoPoloResearchLab/folio/internal/recognition"
	"github.com/MarcoPoloResearchLab/folio/internal/stitching"
	"go.uber.org/zap"
)

const (
	opSubmitOCR    = "jobs.submit_ocr"
	opSubmitStitch = "jobs.submit_stitch"
	opResume       = "jobs.resume"

	interruptedMessage = "interrupted by service restart"
	recentJobsLimit    = 50
)

// ServiceConfig describes the dependencies of the job Service.
type ServiceConfig struct {
	Store       *Store
	Queue       *Queue
	Archive     *archive.Service
	Content     content.Store
	Recognition recognition.Engine
	Stitching   stitching.Engine
	Logger      *zap.Logger
}

// Service validates submissions, records them as QUEUED jobs and hands them to the queue.
type Service struct {
	store       *Store
	queue       *Queue
	archive     *archive.Service
	content     content.Store
	recognition recognition.Engine
	stitching   stitching.Engine
	logger      *zap.Logger
}

// NewService validates the configuration. A nil recognition engine makes OCR jobs fail when run.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError("jobs.service.new", "missing_store", errKindValidation, errMissingStore)
	}
	if cfg.Queue == nil {
		return nil, newServiceError("jobs.service.new", "missing_queue", errKindValidation, errMissingQueue)
	}
	if cfg.Archive == nil {
		return nil, newServiceError("jobs.service.new", "missing_archive", errKindValidation, errMissingArchive)
	}
	if cfg.Content == nil {
		return nil, newServiceError("jobs.service.new", "missing_content_store", errKindValidation, errMissingContent)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stitcher := cfg.Stitching
	if stitcher == nil {
		stitcher = stitching.NewVerticalStitcher(logger)
	}
	return &Service{
		store:       cfg.Store,
		queue:       cfg.Queue,
		archive:     cfg.Archive,
		content:     cfg.Content,
		recognition: cfg.Recognition,
		stitching:   stitcher,
		logger:      logger,
	}, nil
}

// SubmitOcrJob queues text recognition of one of the user's versions.
func (s *Service) SubmitOcrJob(ctx context.Context, userID, versionID string) (Job, error) {
	version, err := s.archive.UserVersion(ctx, userID, versionID)
	if err != nil {
		return Job{}, err
	}
	params, err := json.Marshal(ocrParams{VersionID: version.VersionID})
	if err != nil {
		return Job{}, newServiceError(opSubmitOCR, "encode_failed", errKindStorage, err)
	}
	job, err := s.store.Create(ctx, TypeOCR, userID, version.OwnerID, string(params))
	if err != nil {
		return Job{}, err
	}
	s.queue.Enqueue(s.workItem(job))
	s.logger.Info("ocr job queued", zap.String("job_id", job.JobID), zap.String("version_id", version.VersionID))
	return job, nil
}

// SubmitStitchJob queues stitching of the ordered source versions into a new current version of target.
// The source content references are fixed at submission; a version may appear more than once.
func (s *Service) SubmitStitchJob(ctx context.Context, userID string, target archive.OwnerRef, sourceVersionIDs []string) (Job, error) {
	if len(sourceVersionIDs) < 2 {
		return Job{}, newServiceError(opSubmitStitch, "too_few_sources", errKindValidation, errTooFewSources)
	}
	if err := s.archive.VerifyOwner(ctx, userID, target); err != nil {
		return Job{}, err
	}

	sources := make([]stitchSource, 0, len(sourceVersionIDs))
	for _, versionID := range sourceVersionIDs {
		version, err := s.archive.UserVersion(ctx, userID, versionID)
		if err != nil {
			return Job{}, err
		}
		if version.ContentRef == "" {
			return Job{}, newServiceError(opSubmitStitch, "source_without_content", errKindValidation, nil)
		}
		sources = append(sources, stitchSource{VersionID: version.VersionID, ContentRef: version.ContentRef})
	}

	params, err := json.Marshal(stitchParams{TargetKind: target.Kind, TargetID: target.ID, Sources: sources})
	if err != nil {
		return Job{}, newServiceError(opSubmitStitch, "encode_failed", errKindStorage, err)
	}
	job, err := s.store.Create(ctx, TypeStitch, userID, target.ID, string(params))
	if err != nil {
		return Job{}, err
	}
	s.queue.Enqueue(s.workItem(job))
	s.logger.Info("stitch job queued",
		zap.String("job_id", job.JobID),
		zap.Stringer("target", target),
		zap.Int("sources", len(sources)),
	)
	return job, nil
}

// GetJob returns one of the user's jobs.
func (s *Service) GetJob(ctx context.Context, userID, jobID string) (Job, error) {
	return s.store.GetForUser(ctx, userID, jobID)
}

// ListJobs returns the user's most recent jobs.
func (s *Service) ListJobs(ctx context.Context, userID string) ([]Job, error) {
	return s.store.ListForUser(ctx, userID, recentJobsLimit)
}

// Resume recovers jobs left by a previous process: PROCESSING ones fail as interrupted and QUEUED ones
// are queued again in submission order.
func (s *Service) Resume(ctx context.Context) (requeued int, interrupted int64, err error) {
	interrupted, err = s.store.FailInterrupted(ctx, interruptedMessage)
	if err != nil {
		return 0, 0, err
	}
	queued, err := s.store.ListByStatus(ctx, StatusQueued)
	if err != nil {
		logJobError(s.logger, opResume, reasonQueryFailed, err)
		return 0, interrupted, err
	}
	for _, job := range queued {
		s.queue.Enqueue(s.workItem(job))
	}
	if interrupted > 0 || len(queued) > 0 {
		s.logger.Info("jobs resumed", zap.Int("requeued", len(queued)), zap.Int64("interrupted", interrupted))
	}
	return len(queued), interrupted, nil
}

func (s *Service) workItem(job Job) WorkItem {
	jobID := job.JobID
	var run func(ctx context.Context) error
	switch job.Type {
	case TypeOCR:
		run = func(ctx context.Context) error { return s.runOCR(ctx, jobID) }
	case TypeStitch:
		run = func(ctx context.Context) error { return s.runStitch(ctx, jobID) }
	}
	return WorkItem{JobID: jobID, Type: job.Type, Run: run}
}
