package archive

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opCreateDocument         = "documents.create"
	opGetDocument            = "documents.get"
	opListDocuments          = "documents.list"
	opUpdateDocument         = "documents.update"
	opDeleteDocument         = "documents.delete"
	opAddPageToDocument      = "documents.add_page"
	opRemovePageFromDocument = "documents.remove_page"
	opRevertDocument         = "documents.revert"
)

// DocumentDetail is a document with its tags and its pages in sequence order.
type DocumentDetail struct {
	Document Document
	Tags     []Tag
	Pages    []Page
}

// DocumentSummary is a list entry.
type DocumentSummary struct {
	Document  Document
	Tags      []Tag
	PageCount int64
}

// DocumentList is one page of a user's documents.
type DocumentList struct {
	Items      []DocumentSummary
	TotalCount int64
	Query      ListQuery
}

// DocumentFilter narrows ListDocuments to documents carrying every listed tag.
type DocumentFilter struct {
	Tags []string
}

// DocumentUpdate lists the optional changes of UpdateDocument; nil fields stay untouched.
type DocumentUpdate struct {
	Title *string
	Tags  *[]string
}

// CreateDocument stores an empty document. When initialContent is not empty it becomes version 1
// in the same transaction.
func (s *Service) CreateDocument(ctx context.Context, userID, title string, initialContent []byte) (Document, error) {
	if userID == "" {
		return Document{}, newServiceError(opCreateDocument, "missing_user_id", ErrValidation, errMissingUserID)
	}
	normalizedTitle, err := normalizeTitle(title)
	if err != nil {
		return Document{}, newServiceError(opCreateDocument, "invalid_title", ErrValidation, err)
	}
	documentID, err := s.idProvider.NewID()
	if err != nil {
		return Document{}, newServiceError(opCreateDocument, reasonIDGeneration, ErrStorage, err)
	}
	now := s.clock().UTC()
	document := Document{
		DocumentID: documentID,
		UserID:     userID,
		Title:      normalizedTitle,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	insert := func(tx *gorm.DB) error {
		if err := tx.Create(&document).Error; err != nil {
			s.logError(opCreateDocument, "insert_failed", err, zap.String("user_id", userID))
			return newServiceError(opCreateDocument, "insert_failed", ErrStorage, err)
		}
		return nil
	}

	if len(initialContent) == 0 {
		if err := insert(s.db.WithContext(ctx)); err != nil {
			return Document{}, err
		}
		return document, nil
	}

	version, err := s.versions.createWithOwner(ctx, opCreateDocument, DocumentOwner(documentID), initialContent, initialVersionMessage, insert)
	if err != nil {
		return Document{}, err
	}
	document.CurrentVersionID = &version.VersionID
	return document, nil
}

// GetDocument loads a user's document with its tags and pages.
func (s *Service) GetDocument(ctx context.Context, userID, documentID string) (DocumentDetail, error) {
	db := s.db.WithContext(ctx)
	var document Document
	err := db.Where("document_id = ? AND user_id = ?", documentID, userID).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DocumentDetail{}, newServiceError(opGetDocument, reasonDocumentNotFound, ErrNotFound, nil)
	}
	if err != nil {
		s.logError(opGetDocument, reasonQueryFailed, err, zap.String("document_id", documentID))
		return DocumentDetail{}, newServiceError(opGetDocument, reasonQueryFailed, ErrStorage, err)
	}

	tags, err := tagsForDocuments(db, []string{documentID})
	if err != nil {
		return DocumentDetail{}, newServiceError(opGetDocument, reasonQueryFailed, ErrStorage, err)
	}
	var pages []Page
	if err := db.Where("document_id = ? AND user_id = ?", documentID, userID).
		Order("sort_order ASC").
		Order("created_at DESC").
		Order("page_id ASC").
		Find(&pages).Error; err != nil {
		return DocumentDetail{}, newServiceError(opGetDocument, reasonQueryFailed, ErrStorage, err)
	}
	return DocumentDetail{Document: document, Tags: tags[documentID], Pages: pages}, nil
}

// ListDocuments pages through the user's documents, most recently updated first.
func (s *Service) ListDocuments(ctx context.Context, userID string, filter DocumentFilter, query ListQuery) (DocumentList, error) {
	if userID == "" {
		return DocumentList{}, newServiceError(opListDocuments, "missing_user_id", ErrValidation, errMissingUserID)
	}
	query = query.normalized()
	tagNames, err := NormalizeTagNames(filter.Tags)
	if err != nil {
		return DocumentList{}, newServiceError(opListDocuments, "invalid_tag_name", ErrValidation, err)
	}

	db := s.db.WithContext(ctx)
	scope := db.Model(&Document{}).Where("documents.user_id = ?", userID)
	if len(tagNames) > 0 {
		tagged := db.Table("document_tags").
			Select("document_tags.document_id").
			Joins("JOIN tags ON tags.tag_id = document_tags.tag_id").
			Where("tags.name IN ?", tagNames).
			Group("document_tags.document_id").
			Having("COUNT(DISTINCT tags.name) = ?", len(tagNames))
		scope = scope.Where("documents.document_id IN (?)", tagged)
	}

	var total int64
	if err := scope.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		s.logError(opListDocuments, reasonQueryFailed, err, zap.String("user_id", userID))
		return DocumentList{}, newServiceError(opListDocuments, reasonQueryFailed, ErrStorage, err)
	}
	var documents []Document
	if err := scope.Session(&gorm.Session{}).
		Order("documents.updated_at DESC").
		Order("documents.document_id ASC").
		Offset(query.offset()).
		Limit(query.PageSize).
		Find(&documents).Error; err != nil {
		s.logError(opListDocuments, reasonQueryFailed, err, zap.String("user_id", userID))
		return DocumentList{}, newServiceError(opListDocuments, reasonQueryFailed, ErrStorage, err)
	}

	ids := make([]string, 0, len(documents))
	for _, document := range documents {
		ids = append(ids, document.DocumentID)
	}
	tags, err := tagsForDocuments(db, ids)
	if err != nil {
		return DocumentList{}, newServiceError(opListDocuments, reasonQueryFailed, ErrStorage, err)
	}
	counts, err := pageCounts(db, ids)
	if err != nil {
		return DocumentList{}, newServiceError(opListDocuments, reasonQueryFailed, ErrStorage, err)
	}

	items := make([]DocumentSummary, 0, len(documents))
	for _, document := range documents {
		items = append(items, DocumentSummary{
			Document:  document,
			Tags:      tags[document.DocumentID],
			PageCount: counts[document.DocumentID],
		})
	}
	return DocumentList{Items: items, TotalCount: total, Query: query}, nil
}

// UpdateDocument applies the non-nil fields of update in one transaction. Tags replace the
// document's tag set. Invalid input is rejected before anything is written.
func (s *Service) UpdateDocument(ctx context.Context, userID, documentID string, update DocumentUpdate) (DocumentDetail, error) {
	var title string
	if update.Title != nil {
		normalized, err := normalizeTitle(*update.Title)
		if err != nil {
			return DocumentDetail{}, newServiceError(opUpdateDocument, "invalid_title", ErrValidation, err)
		}
		title = normalized
	}
	var tagNames []string
	if update.Tags != nil {
		names, err := NormalizeTagNames(*update.Tags)
		if err != nil {
			return DocumentDetail{}, newServiceError(opReconcileTags, "invalid_tag_name", ErrValidation, err)
		}
		tagNames = names
	}

	var created []string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if update.Title != nil {
			result := tx.Model(&Document{}).
				Where("document_id = ? AND user_id = ?", documentID, userID).
				Updates(map[string]any{"title": title, "updated_at": s.clock().UTC()})
			if result.Error != nil {
				s.logError(opUpdateDocument, "update_failed", result.Error, zap.String("document_id", documentID))
				return newServiceError(opUpdateDocument, "update_failed", ErrStorage, result.Error)
			}
			if result.RowsAffected == 0 {
				return newServiceError(opUpdateDocument, reasonDocumentNotFound, ErrNotFound, nil)
			}
		}
		if update.Tags != nil {
			var err error
			_, created, err = s.tags.reconcileTx(tx, userID, documentID, tagNames)
			return err
		}
		return nil
	})
	if txErr != nil {
		return DocumentDetail{}, passThrough(opUpdateDocument, "transaction_failed", ErrStorage, txErr)
	}
	s.tags.publishCreated(ctx, created)
	return s.GetDocument(ctx, userID, documentID)
}

// DeleteDocument removes a document and its versions; its pages become unassigned.
func (s *Service) DeleteDocument(ctx context.Context, userID, documentID string) error {
	var refs []string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireDocument(tx, opDeleteDocument, userID, documentID); err != nil {
			return err
		}
		if err := tx.Model(&Page{}).
			Where("document_id = ? AND user_id = ?", documentID, userID).
			Updates(map[string]any{"document_id": nil, "sort_order": 0, "updated_at": s.clock().UTC()}).Error; err != nil {
			return newServiceError(opDeleteDocument, "page_unassign_failed", ErrStorage, err)
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&DocumentTag{}).Error; err != nil {
			return newServiceError(opDeleteDocument, "association_delete_failed", ErrStorage, err)
		}
		var err error
		refs, err = s.versions.deleteOwnerVersions(tx, DocumentOwner(documentID))
		if err != nil {
			return newServiceError(opDeleteDocument, "version_delete_failed", ErrStorage, err)
		}
		if err := tx.Where("document_id = ? AND user_id = ?", documentID, userID).Delete(&Document{}).Error; err != nil {
			return newServiceError(opDeleteDocument, "delete_failed", ErrStorage, err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDeleteDocument, "transaction_failed", txErr, zap.String("document_id", documentID))
		return passThrough(opDeleteDocument, "transaction_failed", ErrStorage, txErr)
	}
	s.versions.discardContentRefs(ctx, opDeleteDocument, refs)
	return nil
}

// AddPageToDocument appends an unassigned page to the end of the document.
func (s *Service) AddPageToDocument(ctx context.Context, userID, documentID, pageID string) (Page, error) {
	var page Page
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireDocument(tx, opAddPageToDocument, userID, documentID); err != nil {
			return err
		}
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("page_id = ? AND user_id = ?", pageID, userID).
			Take(&page).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opAddPageToDocument, reasonPageNotFound, ErrNotFound, nil)
		}
		if err != nil {
			return newServiceError(opAddPageToDocument, reasonQueryFailed, ErrStorage, err)
		}
		if page.DocumentID != nil {
			return newServiceError(opAddPageToDocument, "page_already_assigned", ErrValidation, nil)
		}
		order, err := s.sequencer.nextOrder(tx, documentID)
		if err != nil {
			return newServiceError(opAddPageToDocument, reasonQueryFailed, ErrStorage, err)
		}
		now := s.clock().UTC()
		if err := tx.Model(&Page{}).
			Where("page_id = ? AND user_id = ? AND document_id IS NULL", pageID, userID).
			Updates(map[string]any{"document_id": documentID, "sort_order": order, "updated_at": now}).Error; err != nil {
			return newServiceError(opAddPageToDocument, "assign_failed", ErrStorage, err)
		}
		page.DocumentID = &documentID
		page.Order = order
		page.UpdatedAt = now
		if err := touchDocument(tx, documentID, now); err != nil {
			return newServiceError(opAddPageToDocument, "document_touch_failed", ErrStorage, err)
		}
		return nil
	})
	if txErr != nil {
		return Page{}, passThrough(opAddPageToDocument, "transaction_failed", ErrStorage, txErr)
	}
	return page, nil
}

// RemovePageFromDocument unassigns a page and closes the gap it leaves in the sequence.
func (s *Service) RemovePageFromDocument(ctx context.Context, userID, documentID, pageID string) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireDocument(tx, opRemovePageFromDocument, userID, documentID); err != nil {
			return err
		}
		result := tx.Model(&Page{}).
			Where("page_id = ? AND document_id = ? AND user_id = ?", pageID, documentID, userID).
			Updates(map[string]any{"document_id": nil, "sort_order": 0, "updated_at": s.clock().UTC()})
		if result.Error != nil {
			return newServiceError(opRemovePageFromDocument, "unassign_failed", ErrStorage, result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opRemovePageFromDocument, reasonPageNotInDocument, ErrValidation, nil)
		}
		if err := s.sequencer.densify(tx, userID, documentID); err != nil {
			return err
		}
		if err := touchDocument(tx, documentID, s.clock().UTC()); err != nil {
			return newServiceError(opRemovePageFromDocument, "document_touch_failed", ErrStorage, err)
		}
		return nil
	})
	if txErr != nil {
		return passThrough(opRemovePageFromDocument, "transaction_failed", ErrStorage, txErr)
	}
	return nil
}

// ListDocumentVersions returns a user's document versions, newest first.
func (s *Service) ListDocumentVersions(ctx context.Context, userID, documentID string) ([]Version, error) {
	owner := DocumentOwner(documentID)
	if err := s.VerifyOwner(ctx, userID, owner); err != nil {
		return nil, err
	}
	return s.versions.ListVersions(ctx, owner)
}

// RevertDocument makes an existing version of the document current again.
func (s *Service) RevertDocument(ctx context.Context, userID, documentID, versionID string) error {
	owner := DocumentOwner(documentID)
	if err := s.VerifyOwner(ctx, userID, owner); err != nil {
		return err
	}
	exists, err := s.versions.VersionExists(ctx, versionID)
	if err != nil {
		return err
	}
	if !exists {
		return newServiceError(opRevertDocument, reasonVersionNotFound, ErrNotFound, nil)
	}
	return s.versions.SetCurrentVersion(ctx, owner, versionID)
}

func pageCounts(db *gorm.DB, documentIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(documentIDs))
	if len(documentIDs) == 0 {
		return counts, nil
	}
	type row struct {
		DocumentID string
		Total      int64
	}
	var rows []row
	if err := db.Model(&Page{}).
		Select("document_id AS document_id, COUNT(*) AS total").
		Where("document_id IN ?", documentIDs).
		Group("document_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, entry := range rows {
		counts[entry.DocumentID] = entry.Total
	}
	return counts, nil
}

// touchDocument bumps updated_at for changes that bypass the version store.
func touchDocument(tx *gorm.DB, documentID string, at time.Time) error {
	return tx.Model(&Document{}).Where("document_id = ?", documentID).Update("updated_at", at).Error
}
