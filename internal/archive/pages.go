package archive

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreatePage        = "pages.create"
	opGetPage           = "pages.get"
	opListPages         = "pages.list"
	opUpdatePageTitle   = "pages.update_title"
	opDeletePage        = "pages.delete"
	opCreatePageVersion = "pages.create_version"
	opRevertPage        = "pages.revert"
	opSearchPages       = "pages.search"

	reasonPageNotFound    = "page_not_found"
	initialVersionMessage = "Initial upload"
	maxSearchResults      = 50
)

// PageList is one page of a user's pages.
type PageList struct {
	Items      []Page
	TotalCount int64
	Query      ListQuery
}

// PageFilter narrows ListPages.
type PageFilter struct {
	UnassignedOnly bool
}

// SearchHit is a page whose title or current recognized text matches a query.
type SearchHit struct {
	Page           Page
	MatchedVersion *string
}

// CreatePage stores a page together with its first version, made current, in one transaction.
func (s *Service) CreatePage(ctx context.Context, userID, title string, data []byte) (Page, error) {
	if userID == "" {
		return Page{}, newServiceError(opCreatePage, "missing_user_id", ErrValidation, errMissingUserID)
	}
	normalizedTitle, err := normalizeTitle(title)
	if err != nil {
		return Page{}, newServiceError(opCreatePage, "invalid_title", ErrValidation, err)
	}
	pageID, err := s.idProvider.NewID()
	if err != nil {
		return Page{}, newServiceError(opCreatePage, reasonIDGeneration, ErrStorage, err)
	}
	now := s.clock().UTC()
	page := Page{
		PageID:    pageID,
		UserID:    userID,
		Title:     normalizedTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	version, err := s.versions.createWithOwner(ctx, opCreatePage, PageOwner(pageID), data, initialVersionMessage, func(tx *gorm.DB) error {
		if err := tx.Create(&page).Error; err != nil {
			s.logError(opCreatePage, "insert_failed", err, zap.String("user_id", userID))
			return newServiceError(opCreatePage, "insert_failed", ErrStorage, err)
		}
		return nil
	})
	if err != nil {
		return Page{}, err
	}
	page.CurrentVersionID = &version.VersionID
	return page, nil
}

// GetPage loads a user's page.
func (s *Service) GetPage(ctx context.Context, userID, pageID string) (Page, error) {
	var page Page
	err := s.db.WithContext(ctx).Where("page_id = ? AND user_id = ?", pageID, userID).Take(&page).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Page{}, newServiceError(opGetPage, reasonPageNotFound, ErrNotFound, nil)
	}
	if err != nil {
		s.logError(opGetPage, reasonQueryFailed, err, zap.String("page_id", pageID))
		return Page{}, newServiceError(opGetPage, reasonQueryFailed, ErrStorage, err)
	}
	return page, nil
}

// ListPages pages through the user's pages, most recently updated first.
func (s *Service) ListPages(ctx context.Context, userID string, filter PageFilter, query ListQuery) (PageList, error) {
	if userID == "" {
		return PageList{}, newServiceError(opListPages, "missing_user_id", ErrValidation, errMissingUserID)
	}
	query = query.normalized()
	scope := s.db.WithContext(ctx).Model(&Page{}).Where("user_id = ?", userID)
	if filter.UnassignedOnly {
		scope = scope.Where("document_id IS NULL")
	}

	var total int64
	if err := scope.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		s.logError(opListPages, reasonQueryFailed, err, zap.String("user_id", userID))
		return PageList{}, newServiceError(opListPages, reasonQueryFailed, ErrStorage, err)
	}
	var pages []Page
	if err := scope.Session(&gorm.Session{}).
		Order("updated_at DESC").
		Order("page_id ASC").
		Offset(query.offset()).
		Limit(query.PageSize).
		Find(&pages).Error; err != nil {
		s.logError(opListPages, reasonQueryFailed, err, zap.String("user_id", userID))
		return PageList{}, newServiceError(opListPages, reasonQueryFailed, ErrStorage, err)
	}
	return PageList{Items: pages, TotalCount: total, Query: query}, nil
}

// UpdatePageTitle renames a user's page.
func (s *Service) UpdatePageTitle(ctx context.Context, userID, pageID, title string) (Page, error) {
	normalizedTitle, err := normalizeTitle(title)
	if err != nil {
		return Page{}, newServiceError(opUpdatePageTitle, "invalid_title", ErrValidation, err)
	}
	result := s.db.WithContext(ctx).
		Model(&Page{}).
		Where("page_id = ? AND user_id = ?", pageID, userID).
		Updates(map[string]any{"title": normalizedTitle, "updated_at": s.clock().UTC()})
	if result.Error != nil {
		s.logError(opUpdatePageTitle, "update_failed", result.Error, zap.String("page_id", pageID))
		return Page{}, newServiceError(opUpdatePageTitle, "update_failed", ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		return Page{}, newServiceError(opUpdatePageTitle, reasonPageNotFound, ErrNotFound, nil)
	}
	return s.GetPage(ctx, userID, pageID)
}

// DeletePage removes a page with its versions and content and closes the gap in its document.
func (s *Service) DeletePage(ctx context.Context, userID, pageID string) error {
	var refs []string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var page Page
		err := tx.Where("page_id = ? AND user_id = ?", pageID, userID).Take(&page).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDeletePage, reasonPageNotFound, ErrNotFound, nil)
		}
		if err != nil {
			return newServiceError(opDeletePage, reasonQueryFailed, ErrStorage, err)
		}
		refs, err = s.versions.deleteOwnerVersions(tx, PageOwner(pageID))
		if err != nil {
			return newServiceError(opDeletePage, "version_delete_failed", ErrStorage, err)
		}
		if err := tx.Where("page_id = ? AND user_id = ?", pageID, userID).Delete(&Page{}).Error; err != nil {
			return newServiceError(opDeletePage, "delete_failed", ErrStorage, err)
		}
		if page.DocumentID != nil {
			if err := s.sequencer.densify(tx, userID, *page.DocumentID); err != nil {
				return err
			}
			if err := touchDocument(tx, *page.DocumentID, s.clock().UTC()); err != nil {
				return newServiceError(opDeletePage, "document_touch_failed", ErrStorage, err)
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDeletePage, "transaction_failed", txErr, zap.String("page_id", pageID))
		return passThrough(opDeletePage, "transaction_failed", ErrStorage, txErr)
	}
	s.versions.discardContentRefs(ctx, opDeletePage, refs)
	return nil
}

// CreatePageVersion stores a new version of a page and makes it current.
func (s *Service) CreatePageVersion(ctx context.Context, userID, pageID, message string, data []byte) (Version, error) {
	owner := PageOwner(pageID)
	if err := s.VerifyOwner(ctx, userID, owner); err != nil {
		return Version{}, err
	}
	version, err := s.versions.PublishVersion(ctx, owner, message, data)
	if err != nil {
		s.logError(opCreatePageVersion, "publish_failed", err, zap.String("page_id", pageID))
		return Version{}, err
	}
	return version, nil
}

// ListPageVersions returns a user's page versions, newest first.
func (s *Service) ListPageVersions(ctx context.Context, userID, pageID string) ([]Version, error) {
	owner := PageOwner(pageID)
	if err := s.VerifyOwner(ctx, userID, owner); err != nil {
		return nil, err
	}
	return s.versions.ListVersions(ctx, owner)
}

// RevertPage makes an existing version of the page current again.
func (s *Service) RevertPage(ctx context.Context, userID, pageID, versionID string) error {
	owner := PageOwner(pageID)
	if err := s.VerifyOwner(ctx, userID, owner); err != nil {
		return err
	}
	exists, err := s.versions.VersionExists(ctx, versionID)
	if err != nil {
		return err
	}
	if !exists {
		return newServiceError(opRevertPage, reasonVersionNotFound, ErrNotFound, nil)
	}
	return s.versions.SetCurrentVersion(ctx, owner, versionID)
}

// SearchPages matches query against page titles and the recognized text of each page's
// current version. Whitespace is ignored on both sides.
func (s *Service) SearchPages(ctx context.Context, userID, query string) ([]SearchHit, error) {
	if userID == "" {
		return nil, newServiceError(opSearchPages, "missing_user_id", ErrValidation, errMissingUserID)
	}
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, newServiceError(opSearchPages, "empty_query", ErrValidation, nil)
	}
	normalized := StripWhitespace(trimmed)
	pattern := "%" + escapeLike(normalized) + "%"
	titlePattern := "%" + escapeLike(trimmed) + "%"

	type row struct {
		Page
		MatchedVersion *string `gorm:"column:matched_version"`
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Table("pages").
		Select("pages.*, CASE WHEN versions.search_text LIKE ? ESCAPE '\\' THEN versions.version_id END AS matched_version", pattern).
		Joins("LEFT JOIN versions ON versions.version_id = pages.current_version_id").
		Where("pages.user_id = ?", userID).
		Where("versions.search_text LIKE ? ESCAPE '\\' OR pages.title LIKE ? ESCAPE '\\'", pattern, titlePattern).
		Order("pages.updated_at DESC").
		Limit(maxSearchResults).
		Scan(&rows).Error
	if err != nil {
		s.logError(opSearchPages, reasonQueryFailed, err, zap.String("user_id", userID))
		return nil, newServiceError(opSearchPages, reasonQueryFailed, ErrStorage, err)
	}
	hits := make([]SearchHit, 0, len(rows))
	for _, entry := range rows {
		hits = append(hits, SearchHit{Page: entry.Page, MatchedVersion: entry.MatchedVersion})
	}
	return hits, nil
}

// StripWhitespace removes every whitespace rune; recognized text is indexed in this form.
func StripWhitespace(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
