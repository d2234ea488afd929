package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"github.com/MarcoPoloResearchLab/folio/internal/content"
	"github.com/MarcoPoloResearchLab/folio/internal/recognition"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const stitchSourceReadLimit = 4

func (s *Service) runOCR(ctx context.Context, jobID string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("%w: load job: %w", ErrProcessing, err)
	}
	var params ocrParams
	if err := json.Unmarshal([]byte(job.ParamsJSON), &params); err != nil {
		return fmt.Errorf("%w: decode parameters: %w", ErrProcessing, err)
	}
	if s.recognition == nil {
		return fmt.Errorf("%w: %w", ErrProcessing, recognition.ErrEngineUnavailable)
	}

	versions := s.archive.Versions()
	version, err := versions.GetVersion(ctx, params.VersionID)
	if err != nil {
		return fmt.Errorf("%w: load version %s: %w", ErrProcessing, params.VersionID, err)
	}
	result, err := s.recognition.Recognize(ctx, version.ContentRef)
	if err != nil {
		return fmt.Errorf("%w: recognize %s: %w", ErrProcessing, version.ContentRef, err)
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("%w: encode result: %w", ErrProcessing, err)
	}
	if err := versions.AttachRecognition(ctx, version.VersionID, string(encoded), result.SearchText()); err != nil {
		return fmt.Errorf("%w: store result: %w", ErrProcessing, err)
	}
	s.logger.Debug("recognition stored",
		zap.String("job_id", jobID),
		zap.String("version_id", version.VersionID),
		zap.Int("lines", len(result.Lines)),
	)
	return nil
}

func (s *Service) runStitch(ctx context.Context, jobID string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("%w: load job: %w", ErrProcessing, err)
	}
	var params stitchParams
	if err := json.Unmarshal([]byte(job.ParamsJSON), &params); err != nil {
		return fmt.Errorf("%w: decode parameters: %w", ErrProcessing, err)
	}

	images := make([][]byte, len(params.Sources))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(stitchSourceReadLimit)
	for index, source := range params.Sources {
		group.Go(func() error {
			data, err := s.content.Read(groupCtx, source.ContentRef)
			if isMissingContent(err) {
				return fmt.Errorf("source content %s is missing: %w", source.ContentRef, err)
			}
			if err != nil {
				return fmt.Errorf("read source %s: %w", source.ContentRef, err)
			}
			images[index] = data
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	stitched, err := s.stitching.Stitch(ctx, images)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProcessing, err)
	}
	message := fmt.Sprintf("Stitched from %d images.", len(images))
	version, err := s.archive.Versions().PublishVersion(ctx, params.target(), message, stitched)
	if err != nil {
		return fmt.Errorf("%w: publish version: %w", ErrProcessing, err)
	}
	s.logger.Info("stitched version published",
		zap.String("job_id", jobID),
		zap.Stringer("target", params.target()),
		zap.String("version_id", version.VersionID),
	)
	return nil
}

func isMissingContent(err error) bool {
	return errors.Is(err, content.ErrNotFound) || errors.Is(err, archive.ErrNotFound)
}
