package archive

import (
	"context"
	"errors"
	"testing"
)

func TestSetPageOrdersSwapsPages(t *testing.T) {
	harness := newTestHarness(t)
	document, pages := harness.createDocumentWithPages(t, "A", "B")
	a, b := pages[0].PageID, pages[1].PageID
	sequencer := harness.service.Sequencer()

	if _, err := sequencer.SetPageOrders(context.Background(), testUserID, document.DocumentID, []PageOrder{{PageID: a, Order: 1}, {PageID: b, Order: 2}}); err != nil {
		t.Fatalf("first mapping: %v", err)
	}
	sequence, err := sequencer.SetPageOrders(context.Background(), testUserID, document.DocumentID, []PageOrder{{PageID: b, Order: 1}, {PageID: a, Order: 2}})
	if err != nil {
		t.Fatalf("second mapping: %v", err)
	}

	orders := harness.orders(t, document.DocumentID)
	if orders[a] != 2 || orders[b] != 1 {
		t.Fatalf("expected A=2 B=1, got %v", orders)
	}
	if len(sequence) != 2 || sequence[0].PageID != b {
		t.Fatalf("expected returned sequence to start with B, got %+v", sequence)
	}
}

func TestSetPageOrdersRejectsDuplicateOrder(t *testing.T) {
	harness := newTestHarness(t)
	document, pages := harness.createDocumentWithPages(t, "A", "B")
	before := harness.orders(t, document.DocumentID)

	_, err := harness.service.Sequencer().SetPageOrders(context.Background(), testUserID, document.DocumentID,
		[]PageOrder{{PageID: pages[0].PageID, Order: 1}, {PageID: pages[1].PageID, Order: 1}})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	after := harness.orders(t, document.DocumentID)
	for pageID, order := range before {
		if after[pageID] != order {
			t.Fatalf("page %s changed from %d to %d", pageID, order, after[pageID])
		}
	}
}

func TestSetPageOrdersRejectsInvalidMappings(t *testing.T) {
	harness := newTestHarness(t)
	document, pages := harness.createDocumentWithPages(t, "A", "B", "C")
	stray := harness.createPage(t, "Stray")

	testCases := []struct {
		name     string
		mapping  []PageOrder
		expected error
	}{
		{name: "empty", mapping: nil, expected: ErrValidation},
		{name: "duplicate page", mapping: []PageOrder{{PageID: pages[0].PageID, Order: 1}, {PageID: pages[0].PageID, Order: 2}}, expected: ErrValidation},
		{name: "order below one", mapping: []PageOrder{{PageID: pages[0].PageID, Order: 0}}, expected: ErrValidation},
		{name: "foreign page", mapping: []PageOrder{{PageID: stray.PageID, Order: 4}}, expected: ErrValidation},
		{name: "collides with unlisted page", mapping: []PageOrder{{PageID: pages[0].PageID, Order: 3}}, expected: ErrValidation},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := harness.service.Sequencer().SetPageOrders(context.Background(), testUserID, document.DocumentID, testCase.mapping)
			if !errors.Is(err, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}

	orders := harness.orders(t, document.DocumentID)
	for index, page := range pages {
		if orders[page.PageID] != index+1 {
			t.Fatalf("expected page %s to keep order %d, got %d", page.PageID, index+1, orders[page.PageID])
		}
	}
}

func TestSetPageOrdersRequiresOwnedDocument(t *testing.T) {
	harness := newTestHarness(t)
	document, pages := harness.createDocumentWithPages(t, "A")

	_, err := harness.service.Sequencer().SetPageOrders(context.Background(), "someone-else", document.DocumentID,
		[]PageOrder{{PageID: pages[0].PageID, Order: 1}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInsertPageAtMovesLastPageToFront(t *testing.T) {
	harness := newTestHarness(t)
	document, pages := harness.createDocumentWithPages(t, "P1", "P2", "P3")

	sequence, err := harness.service.Sequencer().InsertPageAt(context.Background(), testUserID, document.DocumentID, pages[2].PageID, 1)
	if err != nil {
		t.Fatalf("insert page: %v", err)
	}

	expected := []string{pages[2].PageID, pages[0].PageID, pages[1].PageID}
	for index, page := range sequence {
		if page.PageID != expected[index] || page.Order != index+1 {
			t.Fatalf("unexpected sequence at %d: %s order %d", index, page.PageID, page.Order)
		}
	}
}

func TestInsertPageAtRejectsOutOfRange(t *testing.T) {
	harness := newTestHarness(t)
	document, pages := harness.createDocumentWithPages(t, "P1", "P2")
	stray := harness.createPage(t, "Stray")
	sequencer := harness.service.Sequencer()

	if _, err := sequencer.InsertPageAt(context.Background(), testUserID, document.DocumentID, pages[0].PageID, 4); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for order past the end, got %v", err)
	}
	if _, err := sequencer.InsertPageAt(context.Background(), testUserID, document.DocumentID, pages[0].PageID, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for order zero, got %v", err)
	}
	if _, err := sequencer.InsertPageAt(context.Background(), testUserID, document.DocumentID, stray.PageID, 1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unassigned page, got %v", err)
	}
	sequence, err := sequencer.InsertPageAt(context.Background(), testUserID, document.DocumentID, pages[0].PageID, 3)
	if err != nil {
		t.Fatalf("expected max+1 to be accepted: %v", err)
	}
	if sequence[1].PageID != pages[0].PageID || sequence[1].Order != 2 {
		t.Fatalf("expected P1 to move to the end densely, got %+v", sequence)
	}
}

func TestResequence(t *testing.T) {
	pages := []Page{{PageID: "a", Order: 1}, {PageID: "b", Order: 2}, {PageID: "c", Order: 3}, {PageID: "d", Order: 4}}

	testCases := []struct {
		name     string
		target   string
		newOrder int
		expected []string
	}{
		{name: "to front", target: "c", newOrder: 1, expected: []string{"c", "a", "b", "d"}},
		{name: "to middle", target: "a", newOrder: 3, expected: []string{"b", "c", "a", "d"}},
		{name: "unchanged", target: "b", newOrder: 2, expected: []string{"a", "b", "c", "d"}},
		{name: "past end", target: "a", newOrder: 5, expected: []string{"b", "c", "d", "a"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assignments := resequence(pages, testCase.target, testCase.newOrder)
			if len(assignments) != len(testCase.expected) {
				t.Fatalf("expected %d assignments, got %d", len(testCase.expected), len(assignments))
			}
			for index, assignment := range assignments {
				if assignment.PageID != testCase.expected[index] || assignment.Order != index+1 {
					t.Fatalf("position %d: got %s@%d", index, assignment.PageID, assignment.Order)
				}
			}
		})
	}
}

func TestRemovePageFromDocumentDensifies(t *testing.T) {
	harness := newTestHarness(t)
	document, pages := harness.createDocumentWithPages(t, "P1", "P2", "P3")

	if err := harness.service.RemovePageFromDocument(context.Background(), testUserID, document.DocumentID, pages[0].PageID); err != nil {
		t.Fatalf("remove page: %v", err)
	}
	orders := harness.orders(t, document.DocumentID)
	if len(orders) != 2 || orders[pages[1].PageID] != 1 || orders[pages[2].PageID] != 2 {
		t.Fatalf("expected dense 1..2 ordering, got %v", orders)
	}
	removed, err := harness.service.GetPage(context.Background(), testUserID, pages[0].PageID)
	if err != nil {
		t.Fatalf("get removed page: %v", err)
	}
	if removed.DocumentID != nil || removed.Order != 0 {
		t.Fatalf("expected removed page to be unassigned, got %+v", removed)
	}
}
