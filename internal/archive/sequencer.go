package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opSetPageOrders = "sequencer.set_page_orders"
	opInsertPageAt  = "sequencer.insert_page_at"
	opDensify       = "sequencer.densify"

	reasonDocumentNotFound  = "document_not_found"
	reasonPageNotInDocument = "page_not_in_document"
)

// PageOrder assigns an ordinal position to a page.
type PageOrder struct {
	PageID string
	Order  int
}

// Sequencer reassigns page positions within a document.
type Sequencer struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewSequencer constructs a Sequencer over the provided database.
func NewSequencer(db *gorm.DB, clock func() time.Time, logger *zap.Logger) (*Sequencer, error) {
	if db == nil {
		return nil, newServiceError("sequencer.new", "missing_database", ErrValidation, errMissingDatabase)
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &Sequencer{db: db, clock: clock, logger: logger}, nil
}

// SetPageOrders overwrites the order of every listed page exactly as given.
// The whole mapping is rejected when it names a page twice, requests one order twice,
// names a page outside the document, or collides with an unlisted page.
func (s *Sequencer) SetPageOrders(ctx context.Context, userID, documentID string, orders []PageOrder) ([]Page, error) {
	if userID == "" {
		return nil, newServiceError(opSetPageOrders, "missing_user_id", ErrValidation, errMissingUserID)
	}
	if err := validateOrderMapping(orders); err != nil {
		return nil, newServiceError(opSetPageOrders, "invalid_mapping", ErrValidation, err)
	}

	var sequence []Page
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireDocument(tx, opSetPageOrders, userID, documentID); err != nil {
			return err
		}
		pages, err := s.loadSequence(tx, userID, documentID)
		if err != nil {
			return newServiceError(opSetPageOrders, reasonQueryFailed, ErrStorage, err)
		}
		if err := s.apply(tx, opSetPageOrders, userID, documentID, pages, orders); err != nil {
			return err
		}
		sequence, err = s.loadSequence(tx, userID, documentID)
		if err != nil {
			return newServiceError(opSetPageOrders, reasonQueryFailed, ErrStorage, err)
		}
		return nil
	})
	if txErr != nil {
		return nil, passThrough(opSetPageOrders, "transaction_failed", ErrStorage, txErr)
	}
	return sequence, nil
}

// InsertPageAt moves a page of the document to newOrder and renumbers every page densely from 1.
func (s *Sequencer) InsertPageAt(ctx context.Context, userID, documentID, pageID string, newOrder int) ([]Page, error) {
	if userID == "" {
		return nil, newServiceError(opInsertPageAt, "missing_user_id", ErrValidation, errMissingUserID)
	}
	if newOrder < 1 {
		return nil, newServiceError(opInsertPageAt, "order_out_of_range", ErrValidation, fmt.Errorf("order %d is below 1", newOrder))
	}

	var sequence []Page
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireDocument(tx, opInsertPageAt, userID, documentID); err != nil {
			return err
		}
		pages, err := s.loadSequence(tx, userID, documentID)
		if err != nil {
			return newServiceError(opInsertPageAt, reasonQueryFailed, ErrStorage, err)
		}
		found := false
		highest := 0
		for _, page := range pages {
			if page.PageID == pageID {
				found = true
			}
			if page.Order > highest {
				highest = page.Order
			}
		}
		if !found {
			return newServiceError(opInsertPageAt, reasonPageNotInDocument, ErrValidation, nil)
		}
		if newOrder > highest+1 {
			return newServiceError(opInsertPageAt, "order_out_of_range", ErrValidation,
				fmt.Errorf("order %d exceeds %d", newOrder, highest+1))
		}
		if err := s.apply(tx, opInsertPageAt, userID, documentID, pages, resequence(pages, pageID, newOrder)); err != nil {
			return err
		}
		sequence, err = s.loadSequence(tx, userID, documentID)
		if err != nil {
			return newServiceError(opInsertPageAt, reasonQueryFailed, ErrStorage, err)
		}
		return nil
	})
	if txErr != nil {
		return nil, passThrough(opInsertPageAt, "transaction_failed", ErrStorage, txErr)
	}
	return sequence, nil
}

// densify renumbers the document's pages 1..N in their current sequence.
func (s *Sequencer) densify(tx *gorm.DB, userID, documentID string) error {
	pages, err := s.loadSequence(tx, userID, documentID)
	if err != nil {
		return newServiceError(opDensify, reasonQueryFailed, ErrStorage, err)
	}
	assignments := make([]PageOrder, 0, len(pages))
	for index, page := range pages {
		assignments = append(assignments, PageOrder{PageID: page.PageID, Order: index + 1})
	}
	return s.apply(tx, opDensify, userID, documentID, pages, assignments)
}

// nextOrder returns the position after the document's last page.
func (s *Sequencer) nextOrder(tx *gorm.DB, documentID string) (int, error) {
	var highest int64
	err := tx.Model(&Page{}).
		Select("COALESCE(MAX(sort_order), 0)").
		Where("document_id = ?", documentID).
		Scan(&highest).Error
	if err != nil {
		return 0, err
	}
	return int(highest) + 1, nil
}

// apply writes assignments against the locked snapshot of the document's pages. Every
// referenced page must be part of the snapshot and the resulting orders must be unique;
// otherwise nothing is written.
func (s *Sequencer) apply(tx *gorm.DB, operation, userID, documentID string, current []Page, assignments []PageOrder) error {
	final := make(map[string]int, len(current))
	for _, page := range current {
		final[page.PageID] = page.Order
	}
	for _, assignment := range assignments {
		if _, ok := final[assignment.PageID]; !ok {
			return newServiceError(operation, reasonPageNotInDocument, ErrValidation,
				fmt.Errorf("page %s", assignment.PageID))
		}
		final[assignment.PageID] = assignment.Order
	}
	taken := make(map[int]string, len(final))
	for pageID, order := range final {
		if holder, ok := taken[order]; ok {
			return newServiceError(operation, "order_conflict", ErrValidation,
				fmt.Errorf("pages %s and %s both at order %d", holder, pageID, order))
		}
		taken[order] = pageID
	}

	now := s.clock().UTC()
	for _, assignment := range assignments {
		result := tx.Model(&Page{}).
			Where("page_id = ? AND document_id = ? AND user_id = ?", assignment.PageID, documentID, userID).
			Updates(map[string]any{"sort_order": assignment.Order, "updated_at": now})
		if result.Error != nil {
			s.logError(operation, "order_update_failed", result.Error,
				zap.String("document_id", documentID),
				zap.String("page_id", assignment.PageID))
			return newServiceError(operation, "order_update_failed", ErrStorage, result.Error)
		}
		if result.RowsAffected != 1 {
			return newServiceError(operation, reasonPageNotInDocument, ErrValidation,
				fmt.Errorf("page %s", assignment.PageID))
		}
	}
	return nil
}

func (s *Sequencer) loadSequence(tx *gorm.DB, userID, documentID string) ([]Page, error) {
	var pages []Page
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		Order("sort_order ASC").
		Order("created_at DESC").
		Order("page_id ASC").
		Find(&pages).Error
	return pages, err
}

func (s *Sequencer) logError(operation, reason string, err error, fields ...zap.Field) {
	logServiceError(s.logger, "sequencer", operation, reason, err, fields...)
}

// resequence places targetID at newOrder within pages (already in sequence order) and
// numbers the result consecutively from 1. Orders past the end append the target.
func resequence(pages []Page, targetID string, newOrder int) []PageOrder {
	others := make([]string, 0, len(pages))
	for _, page := range pages {
		if page.PageID != targetID {
			others = append(others, page.PageID)
		}
	}
	position := newOrder - 1
	if position > len(others) {
		position = len(others)
	}

	assignments := make([]PageOrder, 0, len(others)+1)
	next := 1
	for index, pageID := range others {
		if index == position {
			assignments = append(assignments, PageOrder{PageID: targetID, Order: next})
			next++
		}
		assignments = append(assignments, PageOrder{PageID: pageID, Order: next})
		next++
	}
	if position == len(others) {
		assignments = append(assignments, PageOrder{PageID: targetID, Order: next})
	}
	return assignments
}

func validateOrderMapping(orders []PageOrder) error {
	if len(orders) == 0 {
		return errors.New("at least one page order is required")
	}
	seenPages := make(map[string]struct{}, len(orders))
	seenOrders := make(map[int]string, len(orders))
	for _, entry := range orders {
		if entry.PageID == "" {
			return errors.New("page id is required")
		}
		if entry.Order < 1 {
			return fmt.Errorf("page %s: order %d is below 1", entry.PageID, entry.Order)
		}
		if _, ok := seenPages[entry.PageID]; ok {
			return fmt.Errorf("page %s listed more than once", entry.PageID)
		}
		seenPages[entry.PageID] = struct{}{}
		if holder, ok := seenOrders[entry.Order]; ok {
			return fmt.Errorf("pages %s and %s both request order %d", holder, entry.PageID, entry.Order)
		}
		seenOrders[entry.Order] = entry.PageID
	}
	return nil
}

func requireDocument(tx *gorm.DB, operation, userID, documentID string) error {
	var count int64
	if err := tx.Model(&Document{}).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		Count(&count).Error; err != nil {
		return newServiceError(operation, reasonQueryFailed, ErrStorage, err)
	}
	if count == 0 {
		return newServiceError(operation, reasonDocumentNotFound, ErrNotFound, nil)
	}
	return nil
}
