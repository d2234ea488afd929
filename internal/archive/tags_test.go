package archive

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type recordingTagCache struct {
	added []string
}

func (c *recordingTagCache) Names(context.Context) ([]string, bool, error) {
	return c.added, len(c.added) > 0, nil
}

func (c *recordingTagCache) Add(_ context.Context, names ...string) error {
	c.added = append(c.added, names...)
	return nil
}

func (c *recordingTagCache) Replace(_ context.Context, names []string) error {
	c.added = append([]string(nil), names...)
	return nil
}

func TestReconcileTagsIsIdempotent(t *testing.T) {
	harness := newTestHarness(t)
	cache := &recordingTagCache{}
	harness.service.tags.cache = cache
	document, _ := harness.createDocumentWithPages(t)

	for attempt := 0; attempt < 2; attempt++ {
		tags, err := harness.service.Tags().ReconcileTags(context.Background(), testUserID, document.DocumentID, []string{"a", "b"})
		if err != nil {
			t.Fatalf("reconcile attempt %d: %v", attempt, err)
		}
		if len(tags) != 2 || tags[0].Name != "a" || tags[1].Name != "b" {
			t.Fatalf("unexpected tags on attempt %d: %+v", attempt, tags)
		}
	}

	var count int64
	harness.db.Model(&Tag{}).Count(&count)
	if count != 2 {
		t.Fatalf("expected exactly two tag rows, got %d", count)
	}
	if !reflect.DeepEqual(cache.added, []string{"a", "b"}) {
		t.Fatalf("expected cache to learn each new name once, got %v", cache.added)
	}
}

func TestReconcileTagsReplacesWholesale(t *testing.T) {
	harness := newTestHarness(t)
	document, _ := harness.createDocumentWithPages(t)
	tags := harness.service.Tags()

	if _, err := tags.ReconcileTags(context.Background(), testUserID, document.DocumentID, []string{"tax", "2024", "bank"}); err != nil {
		t.Fatalf("initial reconcile: %v", err)
	}
	final, err := tags.ReconcileTags(context.Background(), testUserID, document.DocumentID, []string{" tax ", "", "tax"})
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if len(final) != 1 || final[0].Name != "tax" {
		t.Fatalf("expected only tax to remain, got %+v", final)
	}

	detail, err := harness.service.GetDocument(context.Background(), testUserID, document.DocumentID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if len(detail.Tags) != 1 || detail.Tags[0].Name != "tax" {
		t.Fatalf("unexpected document tags %+v", detail.Tags)
	}

	var links int64
	harness.db.Model(&DocumentTag{}).Count(&links)
	if links != 1 {
		t.Fatalf("expected one association, got %d", links)
	}
}

func TestReconcileTagsRequiresOwnedDocument(t *testing.T) {
	harness := newTestHarness(t)
	document, _ := harness.createDocumentWithPages(t)

	_, err := harness.service.Tags().ReconcileTags(context.Background(), "intruder", document.DocumentID, []string{"x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var count int64
	harness.db.Model(&Tag{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no tags to be created for a rejected call")
	}
}

func TestNormalizeTagNames(t *testing.T) {
	names, err := NormalizeTagNames([]string{" Tax", "tax", "Tax ", "", "  "})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"Tax", "tax"}) {
		t.Fatalf("unexpected names %v", names)
	}

	long := make([]rune, maxTagNameLength+1)
	for index := range long {
		long[index] = 'x'
	}
	if _, err := NormalizeTagNames([]string{string(long)}); err == nil {
		t.Fatalf("expected overly long name to be rejected")
	}
}
