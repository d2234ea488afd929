package archive

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/content"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew   = "archive.service.new"
	opVerifyOwner  = "archive.verify_owner"
	opUserStats    = "archive.user_stats"
	opAllTagNames  = "archive.all_tag_names"
	defaultPerPage = 20
	maxPerPage     = 100
)

// ServiceConfig describes the dependencies of the archive Service.
type ServiceConfig struct {
	Database   *gorm.DB
	Content    content.Store
	TagCache   TagCache
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service exposes document and page operations scoped to a user, built on the
// VersionStore, Sequencer and TagReconciler.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	tagCache   TagCache
	logger     *zap.Logger

	versions  *VersionStore
	sequencer *Sequencer
	tags      *TagReconciler
}

// NewService validates the configuration and wires the archive components.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", ErrValidation, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", ErrValidation, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	versions, err := NewVersionStore(VersionStoreConfig{
		Database:   cfg.Database,
		Content:    cfg.Content,
		Clock:      clock,
		IDProvider: cfg.IDProvider,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	sequencer, err := NewSequencer(cfg.Database, clock, logger)
	if err != nil {
		return nil, err
	}
	tags, err := NewTagReconciler(cfg.Database, cfg.IDProvider, cfg.TagCache, clock, logger)
	if err != nil {
		return nil, err
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		tagCache:   cfg.TagCache,
		logger:     logger,
		versions:   versions,
		sequencer:  sequencer,
		tags:       tags,
	}, nil
}

// Versions exposes the version store.
func (s *Service) Versions() *VersionStore {
	return s.versions
}

// Sequencer exposes the page sequencer.
func (s *Service) Sequencer() *Sequencer {
	return s.sequencer
}

// Tags exposes the tag reconciler.
func (s *Service) Tags() *TagReconciler {
	return s.tags
}

// VerifyOwner fails with ErrNotFound unless the owner exists and belongs to the user.
func (s *Service) VerifyOwner(ctx context.Context, userID string, owner OwnerRef) error {
	if userID == "" {
		return newServiceError(opVerifyOwner, "missing_user_id", ErrValidation, errMissingUserID)
	}
	model, column := owner.table()
	var count int64
	if err := s.db.WithContext(ctx).
		Model(model).
		Where(column+" = ? AND user_id = ?", owner.ID, userID).
		Count(&count).Error; err != nil {
		s.logError(opVerifyOwner, reasonQueryFailed, err, zap.Stringer("owner", owner))
		return newServiceError(opVerifyOwner, reasonQueryFailed, ErrStorage, err)
	}
	if count == 0 {
		return newServiceError(opVerifyOwner, reasonOwnerNotFound, ErrNotFound, nil)
	}
	return nil
}

// UserVersion loads a version whose owner belongs to the user.
func (s *Service) UserVersion(ctx context.Context, userID, versionID string) (Version, error) {
	version, err := s.versions.GetVersion(ctx, versionID)
	if err != nil {
		return Version{}, err
	}
	if err := s.VerifyOwner(ctx, userID, version.Owner()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Version{}, newServiceError(opGetVersion, reasonVersionNotFound, ErrNotFound, nil)
		}
		return Version{}, err
	}
	return version, nil
}

// ReadVersionContent returns a user's version together with its bytes.
func (s *Service) ReadVersionContent(ctx context.Context, userID, versionID string) (Version, []byte, error) {
	if _, err := s.UserVersion(ctx, userID, versionID); err != nil {
		return Version{}, nil, err
	}
	return s.versions.ReadContent(ctx, versionID)
}

// UserStats summarizes what a user has stored.
type UserStats struct {
	Documents int64
	Pages     int64
	Versions  int64
}

// UserStats counts the user's documents, pages and their versions.
func (s *Service) UserStats(ctx context.Context, userID string) (UserStats, error) {
	if userID == "" {
		return UserStats{}, newServiceError(opUserStats, "missing_user_id", ErrValidation, errMissingUserID)
	}
	var stats UserStats
	db := s.db.WithContext(ctx)
	if err := db.Model(&Document{}).Where("user_id = ?", userID).Count(&stats.Documents).Error; err != nil {
		return UserStats{}, newServiceError(opUserStats, reasonQueryFailed, ErrStorage, err)
	}
	if err := db.Model(&Page{}).Where("user_id = ?", userID).Count(&stats.Pages).Error; err != nil {
		return UserStats{}, newServiceError(opUserStats, reasonQueryFailed, ErrStorage, err)
	}
	err := db.Model(&Version{}).
		Where("(owner_kind = ? AND owner_id IN (?)) OR (owner_kind = ? AND owner_id IN (?))",
			OwnerDocument, db.Model(&Document{}).Select("document_id").Where("user_id = ?", userID),
			OwnerPage, db.Model(&Page{}).Select("page_id").Where("user_id = ?", userID)).
		Count(&stats.Versions).Error
	if err != nil {
		return UserStats{}, newServiceError(opUserStats, reasonQueryFailed, ErrStorage, err)
	}
	return stats, nil
}

// AllTagNames lists every tag name from the database, sorted.
func (s *Service) AllTagNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).Model(&Tag{}).Order("name ASC").Pluck("name", &names).Error; err != nil {
		s.logError(opAllTagNames, reasonQueryFailed, err)
		return nil, newServiceError(opAllTagNames, reasonQueryFailed, ErrStorage, err)
	}
	return names, nil
}

// ListTags serves tag names from the cache once warmed, falling back to the database.
func (s *Service) ListTags(ctx context.Context) ([]string, error) {
	if s.tagCache != nil {
		names, warmed, err := s.tagCache.Names(ctx)
		if err == nil && warmed {
			return names, nil
		}
		if err != nil {
			s.logger.Warn("tag cache read failed", zap.String("operation", opListTags), zap.Error(err))
		}
	}
	return s.AllTagNames(ctx)
}

// ListQuery selects one page of results.
type ListQuery struct {
	Page     int
	PageSize int
}

func (q ListQuery) normalized() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultPerPage
	}
	if q.PageSize > maxPerPage {
		q.PageSize = maxPerPage
	}
	return q
}

func (q ListQuery) offset() int {
	return (q.Page - 1) * q.PageSize
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	logServiceError(s.logger, "archive service", operation, reason, err, fields...)
}
