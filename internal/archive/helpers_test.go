package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/content"
	sqlite "github.com/glebarez/sqlite"
	"github.com/spf13/afero"
	"gorm.io/gorm"
)

const testUserID = "user-1"

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%04d", g.next), nil
}

// flakyStore wraps a content store and can be told to fail saves.
type flakyStore struct {
	content.Store
	failSave bool
	deleted  []string
}

func (s *flakyStore) Save(ctx context.Context, data []byte, ownerID, versionID string) (string, error) {
	if s.failSave {
		return "", errors.New("disk full")
	}
	return s.Store.Save(ctx, data, ownerID, versionID)
}

func (s *flakyStore) Delete(ctx context.Context, ref string) error {
	s.deleted = append(s.deleted, ref)
	return s.Store.Delete(ctx, ref)
}

type testHarness struct {
	service *Service
	db      *gorm.DB
	content *flakyStore
	fs      afero.Fs
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:folio_archive_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	filesystem := afero.NewMemMapFs()
	fileStore, err := content.NewFileStore(filesystem, "/content")
	if err != nil {
		t.Fatalf("failed to create content store: %v", err)
	}
	store := &flakyStore{Store: fileStore}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Content:    store,
		Clock:      func() time.Time { return time.Unix(1700000600, 0).UTC() },
		IDProvider: &sequentialIDs{},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return &testHarness{service: service, db: db, content: store, fs: filesystem}
}

func (h *testHarness) fileCount(t *testing.T) int {
	t.Helper()
	entries, err := afero.ReadDir(h.fs, "/content")
	if err != nil {
		t.Fatalf("failed to list content: %v", err)
	}
	return len(entries)
}

func (h *testHarness) createPage(t *testing.T, title string) Page {
	t.Helper()
	page, err := h.service.CreatePage(context.Background(), testUserID, title, scanBytes(t, 4, 4))
	if err != nil {
		t.Fatalf("failed to create page %s: %v", title, err)
	}
	return page
}

func (h *testHarness) createDocumentWithPages(t *testing.T, titles ...string) (Document, []Page) {
	t.Helper()
	document, err := h.service.CreateDocument(context.Background(), testUserID, "Ledger", nil)
	if err != nil {
		t.Fatalf("failed to create document: %v", err)
	}
	pages := make([]Page, 0, len(titles))
	for _, title := range titles {
		page := h.createPage(t, title)
		assigned, err := h.service.AddPageToDocument(context.Background(), testUserID, document.DocumentID, page.PageID)
		if err != nil {
			t.Fatalf("failed to add page %s: %v", title, err)
		}
		pages = append(pages, assigned)
	}
	return document, pages
}

func (h *testHarness) orders(t *testing.T, documentID string) map[string]int {
	t.Helper()
	var pages []Page
	if err := h.db.Where("document_id = ?", documentID).Find(&pages).Error; err != nil {
		t.Fatalf("failed to load pages: %v", err)
	}
	result := make(map[string]int, len(pages))
	for _, page := range pages {
		result[page.PageID] = page.Order
	}
	return result
}

func scanBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.SetGray(x, 0, color.Gray{Y: 200})
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buffer.Bytes()
}
