package archive

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opReconcileTags = "tags.reconcile"
	opListTags      = "tags.list"
)

// TagCache keeps the catalog of known tag names close to request handling.
type TagCache interface {
	// Names returns the cached names; warmed is false until Replace has run once.
	Names(ctx context.Context) (names []string, warmed bool, err error)
	// Add records names that were just created.
	Add(ctx context.Context, names ...string) error
	// Replace swaps the whole catalog and marks the cache warmed.
	Replace(ctx context.Context, names []string) error
}

// TagReconciler resolves desired tag names to tag rows and replaces a document's tag set.
type TagReconciler struct {
	db         *gorm.DB
	idProvider IDProvider
	cache      TagCache
	clock      func() time.Time
	logger     *zap.Logger
}

// NewTagReconciler constructs a TagReconciler. cache may be nil.
func NewTagReconciler(db *gorm.DB, idProvider IDProvider, cache TagCache, clock func() time.Time, logger *zap.Logger) (*TagReconciler, error) {
	if db == nil {
		return nil, newServiceError("tags.new", "missing_database", ErrValidation, errMissingDatabase)
	}
	if idProvider == nil {
		return nil, newServiceError("tags.new", "missing_id_provider", ErrValidation, errMissingIDProvider)
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &TagReconciler{db: db, idProvider: idProvider, cache: cache, clock: clock, logger: logger}, nil
}

// ReconcileTags replaces the document's tags with the normalized desired set, creating missing
// tags. Calling it again with the same names changes nothing.
func (r *TagReconciler) ReconcileTags(ctx context.Context, userID, documentID string, desired []string) ([]Tag, error) {
	names, err := NormalizeTagNames(desired)
	if err != nil {
		return nil, newServiceError(opReconcileTags, "invalid_tag_name", ErrValidation, err)
	}

	var (
		final   []Tag
		created []string
	)
	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		final, created, err = r.reconcileTx(tx, userID, documentID, names)
		return err
	})
	if txErr != nil {
		return nil, passThrough(opReconcileTags, "transaction_failed", ErrStorage, txErr)
	}
	r.publishCreated(ctx, created)
	return final, nil
}

// reconcileTx applies already normalized names inside tx. The caller publishes the created names
// once tx commits.
func (r *TagReconciler) reconcileTx(tx *gorm.DB, userID, documentID string, names []string) ([]Tag, []string, error) {
	if err := requireDocument(tx, opReconcileTags, userID, documentID); err != nil {
		return nil, nil, err
	}
	final, created, err := r.resolve(tx, names)
	if err != nil {
		return nil, nil, err
	}
	if err := r.replaceAssociations(tx, userID, documentID, final); err != nil {
		return nil, nil, err
	}
	sort.Slice(final, func(i, j int) bool { return final[i].Name < final[j].Name })
	return final, created, nil
}

func (r *TagReconciler) publishCreated(ctx context.Context, created []string) {
	if r.cache == nil || len(created) == 0 {
		return
	}
	if err := r.cache.Add(ctx, created...); err != nil {
		r.logger.Warn("tag cache update failed", zap.Error(err), zap.Strings("tags", created))
	}
}

// resolve returns the tag rows for names, creating the missing ones, plus the names it created.
func (r *TagReconciler) resolve(tx *gorm.DB, names []string) ([]Tag, []string, error) {
	if len(names) == 0 {
		return nil, nil, nil
	}
	existing, err := r.findByNames(tx, names)
	if err != nil {
		return nil, nil, newServiceError(opReconcileTags, reasonQueryFailed, ErrStorage, err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, tag := range existing {
		known[tag.Name] = struct{}{}
	}

	missing := make([]Tag, 0, len(names)-len(existing))
	for _, name := range names {
		if _, ok := known[name]; ok {
			continue
		}
		tagID, err := r.idProvider.NewID()
		if err != nil {
			return nil, nil, newServiceError(opReconcileTags, reasonIDGeneration, ErrStorage, err)
		}
		missing = append(missing, Tag{TagID: tagID, Name: name})
	}
	if len(missing) == 0 {
		return existing, nil, nil
	}

	// A concurrent writer may have created the same name; keep its row.
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&missing).Error; err != nil {
		r.logError(opReconcileTags, "tag_insert_failed", err)
		return nil, nil, newServiceError(opReconcileTags, "tag_insert_failed", ErrStorage, err)
	}

	resolved, err := r.findByNames(tx, names)
	if err != nil {
		return nil, nil, newServiceError(opReconcileTags, reasonQueryFailed, ErrStorage, err)
	}
	created := make([]string, 0, len(missing))
	for _, tag := range missing {
		created = append(created, tag.Name)
	}
	return resolved, created, nil
}

func (r *TagReconciler) replaceAssociations(tx *gorm.DB, userID, documentID string, tags []Tag) error {
	var currentIDs []string
	if err := tx.Model(&DocumentTag{}).
		Where("document_id = ?", documentID).
		Pluck("tag_id", &currentIDs).Error; err != nil {
		return newServiceError(opReconcileTags, reasonQueryFailed, ErrStorage, err)
	}
	if sameTagSet(currentIDs, tags) {
		return nil
	}

	if err := tx.Where("document_id = ?", documentID).Delete(&DocumentTag{}).Error; err != nil {
		r.logError(opReconcileTags, "association_delete_failed", err, zap.String("document_id", documentID))
		return newServiceError(opReconcileTags, "association_delete_failed", ErrStorage, err)
	}
	if len(tags) > 0 {
		links := make([]DocumentTag, 0, len(tags))
		for _, tag := range tags {
			links = append(links, DocumentTag{DocumentID: documentID, TagID: tag.TagID})
		}
		if err := tx.Create(&links).Error; err != nil {
			r.logError(opReconcileTags, "association_insert_failed", err, zap.String("document_id", documentID))
			return newServiceError(opReconcileTags, "association_insert_failed", ErrStorage, err)
		}
	}
	if err := tx.Model(&Document{}).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		Update("updated_at", r.clock().UTC()).Error; err != nil {
		return newServiceError(opReconcileTags, "document_touch_failed", ErrStorage, err)
	}
	return nil
}

func (r *TagReconciler) findByNames(tx *gorm.DB, names []string) ([]Tag, error) {
	var tags []Tag
	err := tx.Where("name IN ?", names).Find(&tags).Error
	return tags, err
}

// tagsForDocuments loads the tags of each document, keyed by document id.
func tagsForDocuments(tx *gorm.DB, documentIDs []string) (map[string][]Tag, error) {
	result := make(map[string][]Tag, len(documentIDs))
	if len(documentIDs) == 0 {
		return result, nil
	}
	type row struct {
		DocumentID string
		TagID      string
		Name       string
	}
	var rows []row
	err := tx.Table("document_tags").
		Select("document_tags.document_id AS document_id, tags.tag_id AS tag_id, tags.name AS name").
		Joins("JOIN tags ON tags.tag_id = document_tags.tag_id").
		Where("document_tags.document_id IN ?", documentIDs).
		Order("tags.name ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, entry := range rows {
		result[entry.DocumentID] = append(result[entry.DocumentID], Tag{TagID: entry.TagID, Name: entry.Name})
	}
	return result, nil
}

func (r *TagReconciler) logError(operation, reason string, err error, fields ...zap.Field) {
	logServiceError(r.logger, "tag reconciler", operation, reason, err, fields...)
}

// NormalizeTagNames trims names, drops empty ones and removes exact duplicates,
// keeping the first occurrence order.
func NormalizeTagNames(raw []string) ([]string, error) {
	names := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, candidate := range raw {
		name := strings.TrimSpace(candidate)
		if name == "" {
			continue
		}
		if len([]rune(name)) > maxTagNameLength {
			return nil, fmt.Errorf("tag %q exceeds %d characters", name, maxTagNameLength)
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names, nil
}

func sameTagSet(currentIDs []string, tags []Tag) bool {
	if len(currentIDs) != len(tags) {
		return false
	}
	current := make(map[string]struct{}, len(currentIDs))
	for _, id := range currentIDs {
		current[id] = struct{}{}
	}
	for _, tag := range tags {
		if _, ok := current[tag.TagID]; !ok {
			return false
		}
	}
	return true
}
