package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"github.com/MarcoPoloResearchLab/folio/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/internal/content"
	"github.com/MarcoPoloResearchLab/folio/internal/jobs"
	"github.com/MarcoPoloResearchLab/folio/internal/readiness"
	"github.com/MarcoPoloResearchLab/folio/internal/tagcache"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testUserID = "user-1"

var errNoSession = errors.New("no session")

// headerSessions treats the bearer token as the user id.
type headerSessions struct{}

func (headerSessions) ValidateRequest(r *http.Request) (auth.SessionClaims, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return auth.SessionClaims{}, errNoSession
	}
	return auth.SessionClaims{UserID: token}, nil
}

type passthroughUsers struct{}

func (passthroughUsers) ResolveUserID(_ context.Context, claims auth.SessionClaims) (string, error) {
	return claims.UserID, nil
}

type apiHarness struct {
	handler  http.Handler
	gate     *readiness.Gate
	archive  *archive.Service
	registry *prometheus.Registry
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:folio_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	if err := db.AutoMigrate(append(archive.Models(), &jobs.Job{})...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	fileStore, err := content.NewFileStore(afero.NewMemMapFs(), "/content")
	if err != nil {
		t.Fatalf("failed to build content store: %v", err)
	}
	ids := archive.NewUUIDProvider()
	archiveService, err := archive.NewService(archive.ServiceConfig{
		Database:   db,
		Content:    fileStore,
		TagCache:   tagcache.NewMemory(),
		IDProvider: ids,
	})
	if err != nil {
		t.Fatalf("failed to build archive service: %v", err)
	}
	store, err := jobs.NewStore(db, ids, nil, nil)
	if err != nil {
		t.Fatalf("failed to build job store: %v", err)
	}
	jobService, err := jobs.NewService(jobs.ServiceConfig{
		Store:   store,
		Queue:   jobs.NewQueue(4),
		Archive: archiveService,
		Content: fileStore,
	})
	if err != nil {
		t.Fatalf("failed to build job service: %v", err)
	}

	gate := readiness.NewGate()
	registry := prometheus.NewRegistry()
	handler, err := NewHTTPHandler(Dependencies{
		Archive:    archiveService,
		Jobs:       jobService,
		Sessions:   headerSessions{},
		Users:      passthroughUsers{},
		Gate:       gate,
		Registry:   registry,
		ServerName: "Folio Test",
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &apiHarness{handler: handler, gate: gate, archive: archiveService, registry: registry}
}

func (h *apiHarness) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, path, body)
	request.Header.Set("Authorization", "Bearer "+testUserID)
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func (h *apiHarness) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}
	return h.do(t, method, path, body, "application/json")
}

func (h *apiHarness) upload(t *testing.T, path string, fields map[string]string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("file", "scan.png")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return h.do(t, http.MethodPost, path, &body, writer.FormDataContentType())
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, image.NewGray(image.Rect(0, 0, 4, 3))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buffer.Bytes()
}
