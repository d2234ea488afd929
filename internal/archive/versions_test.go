package archive

import (
	"context"
	"errors"
	"testing"
)

func TestCreatePageBindsInitialVersion(t *testing.T) {
	harness := newTestHarness(t)
	page := harness.createPage(t, "Invoice")

	if page.CurrentVersionID == nil {
		t.Fatalf("expected current version to be set")
	}
	version, err := harness.service.Versions().GetVersion(context.Background(), *page.CurrentVersionID)
	if err != nil {
		t.Fatalf("failed to load current version: %v", err)
	}
	if version.VersionNumber != 1 {
		t.Fatalf("expected version number 1, got %d", version.VersionNumber)
	}
	if version.Message == nil || *version.Message != initialVersionMessage {
		t.Fatalf("unexpected initial message: %v", version.Message)
	}
	if version.ContentRef != page.PageID+"_"+version.VersionID+".png" {
		t.Fatalf("unexpected content reference %q", version.ContentRef)
	}

	stored, err := harness.service.GetPage(context.Background(), testUserID, page.PageID)
	if err != nil {
		t.Fatalf("failed to reload page: %v", err)
	}
	if stored.CurrentVersionID == nil || *stored.CurrentVersionID != version.VersionID {
		t.Fatalf("stored pointer does not reference version 1")
	}
}

func TestCreatePageRollsBackWhenContentWriteFails(t *testing.T) {
	harness := newTestHarness(t)
	harness.content.failSave = true

	_, err := harness.service.CreatePage(context.Background(), testUserID, "Invoice", scanBytes(t, 2, 2))
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}

	var pages, versions int64
	harness.db.Model(&Page{}).Count(&pages)
	harness.db.Model(&Version{}).Count(&versions)
	if pages != 0 || versions != 0 {
		t.Fatalf("expected no rows after failed create, got %d pages and %d versions", pages, versions)
	}
}

func TestCreateVersionNumbersAreContiguous(t *testing.T) {
	harness := newTestHarness(t)
	page := harness.createPage(t, "Receipt")
	owner := PageOwner(page.PageID)
	store := harness.service.Versions()

	for index := 0; index < 4; index++ {
		version, err := store.CreateVersion(context.Background(), owner, "rescan", scanBytes(t, 3, 3))
		if err != nil {
			t.Fatalf("create version %d: %v", index, err)
		}
		if index%2 == 0 {
			if err := store.SetCurrentVersion(context.Background(), owner, version.VersionID); err != nil {
				t.Fatalf("set current: %v", err)
			}
		}
	}

	versions, err := store.ListVersions(context.Background(), owner)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 5 {
		t.Fatalf("expected 5 versions, got %d", len(versions))
	}
	for index, version := range versions {
		expected := len(versions) - index
		if version.VersionNumber != expected {
			t.Fatalf("expected version number %d at position %d, got %d", expected, index, version.VersionNumber)
		}
	}
}

func TestCreateVersionDoesNotPromote(t *testing.T) {
	harness := newTestHarness(t)
	page := harness.createPage(t, "Receipt")

	version, err := harness.service.Versions().CreateVersion(context.Background(), PageOwner(page.PageID), "", scanBytes(t, 5, 5))
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	stored, err := harness.service.GetPage(context.Background(), testUserID, page.PageID)
	if err != nil {
		t.Fatalf("reload page: %v", err)
	}
	if *stored.CurrentVersionID == version.VersionID {
		t.Fatalf("expected version 2 to stay non-current")
	}
	if version.Message != nil {
		t.Fatalf("expected blank message to be stored as null")
	}
}

func TestCreateVersionOnEmptyDocumentBecomesCurrent(t *testing.T) {
	harness := newTestHarness(t)
	document, err := harness.service.CreateDocument(context.Background(), testUserID, "Contracts", nil)
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if document.CurrentVersionID != nil {
		t.Fatalf("expected empty document to have no current version")
	}

	version, err := harness.service.Versions().CreateVersion(context.Background(), DocumentOwner(document.DocumentID), "first", scanBytes(t, 2, 2))
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	detail, err := harness.service.GetDocument(context.Background(), testUserID, document.DocumentID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if detail.Document.CurrentVersionID == nil || *detail.Document.CurrentVersionID != version.VersionID {
		t.Fatalf("expected first version to become current")
	}
}

func TestRevertIsIdempotent(t *testing.T) {
	harness := newTestHarness(t)
	page := harness.createPage(t, "Letter")
	initial := *page.CurrentVersionID

	if _, err := harness.service.CreatePageVersion(context.Background(), testUserID, page.PageID, "second scan", scanBytes(t, 6, 6)); err != nil {
		t.Fatalf("create page version: %v", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := harness.service.RevertPage(context.Background(), testUserID, page.PageID, initial); err != nil {
			t.Fatalf("revert attempt %d: %v", attempt, err)
		}
	}

	stored, err := harness.service.GetPage(context.Background(), testUserID, page.PageID)
	if err != nil {
		t.Fatalf("reload page: %v", err)
	}
	if *stored.CurrentVersionID != initial {
		t.Fatalf("expected revert to restore version 1")
	}
	var count int64
	harness.db.Model(&Version{}).Where("owner_id = ?", page.PageID).Count(&count)
	if count != 2 {
		t.Fatalf("expected revert to create no versions, got %d rows", count)
	}
}

func TestSetCurrentVersionRejectsForeignVersion(t *testing.T) {
	harness := newTestHarness(t)
	first := harness.createPage(t, "First")
	second := harness.createPage(t, "Second")

	err := harness.service.Versions().SetCurrentVersion(context.Background(), PageOwner(first.PageID), *second.CurrentVersionID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "versions.set_current.version_not_found" {
		t.Fatalf("unexpected error code: %v", err)
	}
}

func TestPublishVersionRemovesContentWhenOwnerMissing(t *testing.T) {
	harness := newTestHarness(t)

	_, err := harness.service.Versions().PublishVersion(context.Background(), DocumentOwner("missing"), "stitched", scanBytes(t, 2, 2))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(harness.content.deleted) != 1 {
		t.Fatalf("expected the written content to be removed, got %v", harness.content.deleted)
	}
	if harness.fileCount(t) != 0 {
		t.Fatalf("expected no orphaned files")
	}
}

func TestCreateInitialVersionRejectsOwnerWithHistory(t *testing.T) {
	harness := newTestHarness(t)
	page := harness.createPage(t, "Memo")

	_, err := harness.service.Versions().CreateInitialVersion(context.Background(), PageOwner(page.PageID), scanBytes(t, 2, 2), "")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if harness.fileCount(t) != 1 {
		t.Fatalf("expected only the first upload to remain on disk")
	}
}

func TestVersionExists(t *testing.T) {
	harness := newTestHarness(t)
	page := harness.createPage(t, "Memo")

	exists, err := harness.service.Versions().VersionExists(context.Background(), *page.CurrentVersionID)
	if err != nil || !exists {
		t.Fatalf("expected version to exist: %v", err)
	}
	exists, err = harness.service.Versions().VersionExists(context.Background(), "nope")
	if err != nil || exists {
		t.Fatalf("expected missing version to be reported absent: %v", err)
	}
}

func TestAttachRecognitionKeepsVersionCount(t *testing.T) {
	harness := newTestHarness(t)
	page := harness.createPage(t, "Memo")
	store := harness.service.Versions()

	if err := store.AttachRecognition(context.Background(), *page.CurrentVersionID, `{"lines":[]}`, "hello"); err != nil {
		t.Fatalf("attach recognition: %v", err)
	}
	version, err := store.GetVersion(context.Background(), *page.CurrentVersionID)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if version.SearchText == nil || *version.SearchText != "hello" {
		t.Fatalf("expected search text to be stored")
	}
	if err := store.AttachRecognition(context.Background(), "missing", "{}", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing version, got %v", err)
	}
}
