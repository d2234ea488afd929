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
	opVersionStoreNew     = "versions.new"
	opCreateInitial       = "versions.create_initial"
	opCreateVersion       = "versions.create"
	opPublishVersion      = "versions.publish"
	opSetCurrentVersion   = "versions.set_current"
	opVersionExists       = "versions.exists"
	opGetVersion          = "versions.get"
	opListVersions        = "versions.list"
	opAttachRecognition   = "versions.attach_recognition"
	opReadVersionContent  = "versions.read_content"
	reasonQueryFailed     = "query_failed"
	reasonOwnerNotFound   = "owner_not_found"
	reasonVersionNotFound = "version_not_found"
	reasonContentWrite    = "content_write_failed"
	reasonIDGeneration    = "id_generation_failed"
	reasonInvalidInput    = "invalid_input"
)

// VersionStoreConfig describes the dependencies of a VersionStore.
type VersionStoreConfig struct {
	Database   *gorm.DB
	Content    content.Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// VersionStore owns the append-only version history of documents and pages
// together with each owner's current-version pointer.
type VersionStore struct {
	db         *gorm.DB
	content    content.Store
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewVersionStore validates the configuration and constructs a VersionStore.
func NewVersionStore(cfg VersionStoreConfig) (*VersionStore, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opVersionStoreNew, "missing_database", ErrValidation, errMissingDatabase)
	}
	if cfg.Content == nil {
		return nil, newServiceError(opVersionStoreNew, "missing_content_store", ErrValidation, errMissingContentStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opVersionStoreNew, "missing_id_provider", ErrValidation, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &VersionStore{
		db:         cfg.Database,
		content:    cfg.Content,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateInitialVersion stores content as version 1 of an existing owner without
// versions and makes it current.
func (s *VersionStore) CreateInitialVersion(ctx context.Context, owner OwnerRef, data []byte, message string) (Version, error) {
	return s.createWithOwner(ctx, opCreateInitial, owner, data, message, func(tx *gorm.DB) error {
		if err := s.requireOwner(tx, opCreateInitial, owner); err != nil {
			return err
		}
		count, err := s.countVersions(tx, owner)
		if err != nil {
			return newServiceError(opCreateInitial, reasonQueryFailed, ErrStorage, err)
		}
		if count > 0 {
			return newServiceError(opCreateInitial, "owner_has_versions", ErrValidation, nil)
		}
		return nil
	})
}

// createWithOwner writes content, then runs prepare, inserts version 1 and promotes it in one
// transaction. prepare either creates the owner row or verifies that it may receive a first version.
func (s *VersionStore) createWithOwner(ctx context.Context, operation string, owner OwnerRef, data []byte, message string, prepare func(tx *gorm.DB) error) (Version, error) {
	normalizedMessage, err := s.validatePayload(operation, owner, data, message)
	if err != nil {
		return Version{}, err
	}
	versionID, ref, err := s.writeContent(ctx, operation, owner, data)
	if err != nil {
		return Version{}, err
	}

	var created Version
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := prepare(tx); err != nil {
			return err
		}
		version, err := s.insertVersion(tx, operation, owner, versionID, 1, normalizedMessage, ref)
		if err != nil {
			return err
		}
		if err := s.promote(tx, operation, owner, versionID); err != nil {
			return err
		}
		created = version
		return nil
	})
	if txErr != nil {
		s.discardContent(ctx, operation, ref)
		return Version{}, passThrough(operation, "transaction_failed", ErrStorage, txErr)
	}
	return created, nil
}

// CreateVersion appends a version with number max+1. The new version does not become
// current unless it is the owner's first.
func (s *VersionStore) CreateVersion(ctx context.Context, owner OwnerRef, message string, data []byte) (Version, error) {
	return s.appendVersion(ctx, opCreateVersion, owner, message, data, false)
}

// PublishVersion appends a version and promotes it to current in the same transaction.
func (s *VersionStore) PublishVersion(ctx context.Context, owner OwnerRef, message string, data []byte) (Version, error) {
	return s.appendVersion(ctx, opPublishVersion, owner, message, data, true)
}

func (s *VersionStore) appendVersion(ctx context.Context, operation string, owner OwnerRef, message string, data []byte, promote bool) (Version, error) {
	normalizedMessage, err := s.validatePayload(operation, owner, data, message)
	if err != nil {
		return Version{}, err
	}
	versionID, ref, err := s.writeContent(ctx, operation, owner, data)
	if err != nil {
		return Version{}, err
	}

	var created Version
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireOwner(tx, operation, owner); err != nil {
			return err
		}
		number, err := s.nextVersionNumber(tx, owner)
		if err != nil {
			return newServiceError(operation, reasonQueryFailed, ErrStorage, err)
		}
		version, err := s.insertVersion(tx, operation, owner, versionID, number, normalizedMessage, ref)
		if err != nil {
			return err
		}
		if promote || number == 1 {
			if err := s.promote(tx, operation, owner, versionID); err != nil {
				return err
			}
		}
		created = version
		return nil
	})
	if txErr != nil {
		s.discardContent(ctx, operation, ref)
		return Version{}, passThrough(operation, "transaction_failed", ErrStorage, txErr)
	}
	return created, nil
}

// SetCurrentVersion points the owner at one of its own versions. Reverting is this call
// with an older version id; no version row is created.
func (s *VersionStore) SetCurrentVersion(ctx context.Context, owner OwnerRef, versionID string) error {
	if _, err := NewOwnerRef(owner.Kind, owner.ID); err != nil {
		return newServiceError(opSetCurrentVersion, reasonInvalidInput, ErrValidation, err)
	}
	if _, err := normalizeIdentifier(versionID); err != nil {
		return newServiceError(opSetCurrentVersion, reasonInvalidInput, ErrValidation, err)
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.promote(tx, opSetCurrentVersion, owner, versionID)
	})
	if txErr != nil {
		return passThrough(opSetCurrentVersion, "transaction_failed", ErrStorage, txErr)
	}
	return nil
}

// VersionExists reports whether a version with the id exists.
func (s *VersionStore) VersionExists(ctx context.Context, versionID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Version{}).Where("version_id = ?", versionID).Count(&count).Error; err != nil {
		s.logError(opVersionExists, reasonQueryFailed, err, zap.String("version_id", versionID))
		return false, newServiceError(opVersionExists, reasonQueryFailed, ErrStorage, err)
	}
	return count > 0, nil
}

// GetVersion loads a version by id.
func (s *VersionStore) GetVersion(ctx context.Context, versionID string) (Version, error) {
	var version Version
	err := s.db.WithContext(ctx).Where("version_id = ?", versionID).Take(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Version{}, newServiceError(opGetVersion, reasonVersionNotFound, ErrNotFound, nil)
	}
	if err != nil {
		s.logError(opGetVersion, reasonQueryFailed, err, zap.String("version_id", versionID))
		return Version{}, newServiceError(opGetVersion, reasonQueryFailed, ErrStorage, err)
	}
	return version, nil
}

// ListVersions returns the owner's versions, highest number first.
func (s *VersionStore) ListVersions(ctx context.Context, owner OwnerRef) ([]Version, error) {
	var versions []Version
	if err := s.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ?", owner.Kind, owner.ID).
		Order("version_number DESC").
		Find(&versions).Error; err != nil {
		s.logError(opListVersions, reasonQueryFailed, err, zap.Stringer("owner", owner))
		return nil, newServiceError(opListVersions, reasonQueryFailed, ErrStorage, err)
	}
	return versions, nil
}

// AttachRecognition stores a text recognition result and its search text on an existing version.
func (s *VersionStore) AttachRecognition(ctx context.Context, versionID, resultJSON, searchText string) error {
	result := s.db.WithContext(ctx).
		Model(&Version{}).
		Where("version_id = ?", versionID).
		Updates(map[string]any{
			"recognition_json": resultJSON,
			"search_text":      searchText,
		})
	if result.Error != nil {
		s.logError(opAttachRecognition, "update_failed", result.Error, zap.String("version_id", versionID))
		return newServiceError(opAttachRecognition, "update_failed", ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opAttachRecognition, reasonVersionNotFound, ErrNotFound, nil)
	}
	return nil
}

// ReadContent returns the version together with its stored bytes.
func (s *VersionStore) ReadContent(ctx context.Context, versionID string) (Version, []byte, error) {
	version, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return Version{}, nil, err
	}
	data, err := s.content.Read(ctx, version.ContentRef)
	if errors.Is(err, content.ErrNotFound) {
		return Version{}, nil, newServiceError(opReadVersionContent, "content_missing", ErrNotFound, err)
	}
	if err != nil {
		s.logError(opReadVersionContent, "content_read_failed", err, zap.String("version_id", versionID))
		return Version{}, nil, newServiceError(opReadVersionContent, "content_read_failed", ErrStorage, err)
	}
	return version, data, nil
}

// deleteOwnerVersions removes every version row of the owner and returns their content references
// so the caller can discard the bytes once the transaction commits.
func (s *VersionStore) deleteOwnerVersions(tx *gorm.DB, owner OwnerRef) ([]string, error) {
	var refs []string
	if err := tx.Model(&Version{}).
		Where("owner_kind = ? AND owner_id = ?", owner.Kind, owner.ID).
		Pluck("content_ref", &refs).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("owner_kind = ? AND owner_id = ?", owner.Kind, owner.ID).Delete(&Version{}).Error; err != nil {
		return nil, err
	}
	return refs, nil
}

func (s *VersionStore) discardContentRefs(ctx context.Context, operation string, refs []string) {
	for _, ref := range refs {
		s.discardContent(ctx, operation, ref)
	}
}

func (s *VersionStore) validatePayload(operation string, owner OwnerRef, data []byte, message string) (*string, error) {
	if _, err := NewOwnerRef(owner.Kind, owner.ID); err != nil {
		return nil, newServiceError(operation, reasonInvalidInput, ErrValidation, err)
	}
	if len(data) == 0 {
		return nil, newServiceError(operation, "empty_content", ErrValidation, errEmptyContent)
	}
	normalized, err := normalizeMessage(message)
	if err != nil {
		return nil, newServiceError(operation, "invalid_message", ErrValidation, err)
	}
	return normalized, nil
}

func (s *VersionStore) writeContent(ctx context.Context, operation string, owner OwnerRef, data []byte) (string, string, error) {
	versionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, reasonIDGeneration, err, zap.Stringer("owner", owner))
		return "", "", newServiceError(operation, reasonIDGeneration, ErrStorage, err)
	}
	ref, err := s.content.Save(ctx, data, owner.ID, versionID)
	if err != nil {
		s.logError(operation, reasonContentWrite, err, zap.Stringer("owner", owner), zap.String("version_id", versionID))
		return "", "", newServiceError(operation, reasonContentWrite, ErrStorage, err)
	}
	return versionID, ref, nil
}

func (s *VersionStore) discardContent(ctx context.Context, operation, ref string) {
	if err := s.content.Delete(context.WithoutCancel(ctx), ref); err != nil {
		s.logError(operation, "content_cleanup_failed", err, zap.String("content_ref", ref))
	}
}

func (s *VersionStore) requireOwner(tx *gorm.DB, operation string, owner OwnerRef) error {
	model, column := owner.table()
	var count int64
	if err := tx.Model(model).Where(column+" = ?", owner.ID).Count(&count).Error; err != nil {
		return newServiceError(operation, reasonQueryFailed, ErrStorage, err)
	}
	if count == 0 {
		return newServiceError(operation, reasonOwnerNotFound, ErrNotFound, nil)
	}
	return nil
}

func (s *VersionStore) countVersions(tx *gorm.DB, owner OwnerRef) (int64, error) {
	var count int64
	err := tx.Model(&Version{}).
		Where("owner_kind = ? AND owner_id = ?", owner.Kind, owner.ID).
		Count(&count).Error
	return count, err
}

func (s *VersionStore) nextVersionNumber(tx *gorm.DB, owner OwnerRef) (int, error) {
	var highest int64
	err := tx.Model(&Version{}).
		Select("COALESCE(MAX(version_number), 0)").
		Where("owner_kind = ? AND owner_id = ?", owner.Kind, owner.ID).
		Scan(&highest).Error
	if err != nil {
		return 0, err
	}
	return int(highest) + 1, nil
}

func (s *VersionStore) insertVersion(tx *gorm.DB, operation string, owner OwnerRef, versionID string, number int, message *string, ref string) (Version, error) {
	version := Version{
		VersionID:     versionID,
		OwnerKind:     owner.Kind,
		OwnerID:       owner.ID,
		VersionNumber: number,
		Message:       message,
		ContentRef:    ref,
		CreatedAt:     s.clock().UTC(),
	}
	if err := tx.Create(&version).Error; err != nil {
		s.logError(operation, "version_insert_failed", err, zap.Stringer("owner", owner), zap.Int("version_number", number))
		return Version{}, newServiceError(operation, "version_insert_failed", ErrStorage, err)
	}
	return version, nil
}

// promote is the single primitive behind publishing and reverting.
func (s *VersionStore) promote(tx *gorm.DB, operation string, owner OwnerRef, versionID string) error {
	var count int64
	if err := tx.Model(&Version{}).
		Where("version_id = ? AND owner_kind = ? AND owner_id = ?", versionID, owner.Kind, owner.ID).
		Count(&count).Error; err != nil {
		return newServiceError(operation, reasonQueryFailed, ErrStorage, err)
	}
	if count == 0 {
		return newServiceError(operation, reasonVersionNotFound, ErrNotFound, nil)
	}

	model, column := owner.table()
	result := tx.Model(model).
		Where(column+" = ?", owner.ID).
		Updates(map[string]any{
			"current_version_id": versionID,
			"updated_at":         s.clock().UTC(),
		})
	if result.Error != nil {
		s.logError(operation, "pointer_update_failed", result.Error, zap.Stringer("owner", owner))
		return newServiceError(operation, "pointer_update_failed", ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(operation, reasonOwnerNotFound, ErrNotFound, nil)
	}
	return nil
}

func (s *VersionStore) logError(operation, reason string, err error, fields ...zap.Field) {
	logServiceError(s.logger, "version store", operation, reason, err, fields...)
}
