package jobs

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"github.com/MarcoPoloResearchLab/folio/internal/content"
	"github.com/MarcoPoloResearchLab/folio/internal/recognition"
	sqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const testUserID = "user-1"

type counterIDs struct {
	mu   sync.Mutex
	next int
}

func (c *counterIDs) NewID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return fmt.Sprintf("id-%04d", c.next), nil
}

type engineFunc func(ctx context.Context, ref string) (recognition.Result, error)

func (f engineFunc) Recognize(ctx context.Context, ref string) (recognition.Result, error) {
	return f(ctx, ref)
}

type jobsHarness struct {
	db       *gorm.DB
	archive  *archive.Service
	store    *Store
	queue    *Queue
	service  *Service
	metrics  *Metrics
	registry *prometheus.Registry
	logs     *observer.ObservedLogs
}

func newJobsHarness(t *testing.T, engine recognition.Engine) *jobsHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:folio_jobs_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(append(archive.Models(), &Job{})...))

	fileStore, err := content.NewFileStore(afero.NewMemMapFs(), "/content")
	require.NoError(t, err)

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	ids := &counterIDs{}

	archiveService, err := archive.NewService(archive.ServiceConfig{
		Database:   db,
		Content:    fileStore,
		IDProvider: ids,
		Logger:     logger,
	})
	require.NoError(t, err)

	store, err := NewStore(db, ids, nil, logger)
	require.NoError(t, err)
	queue := NewQueue(4)
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry, queue.Len)
	require.NoError(t, err)

	service, err := NewService(ServiceConfig{
		Store:       store,
		Queue:       queue,
		Archive:     archiveService,
		Content:     fileStore,
		Recognition: engine,
		Logger:      logger,
	})
	require.NoError(t, err)

	return &jobsHarness{
		db:       db,
		archive:  archiveService,
		store:    store,
		queue:    queue,
		service:  service,
		metrics:  metrics,
		registry: registry,
		logs:     logs,
	}
}

// startDispatcher runs a dispatcher until the test ends.
func (h *jobsHarness) startDispatcher(t *testing.T) {
	t.Helper()
	dispatcher, err := NewDispatcher(DispatcherConfig{Queue: h.queue, Store: h.store, Metrics: h.metrics})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = dispatcher.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *jobsHarness) waitForTerminal(t *testing.T, jobID string) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		loaded, err := h.store.Get(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = loaded
		return loaded.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func (h *jobsHarness) createPage(t *testing.T, title string, width, height int) archive.Page {
	t.Helper()
	page, err := h.archive.CreatePage(context.Background(), testUserID, title, pngBytes(t, width, height))
	require.NoError(t, err)
	return page
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buffer bytes.Buffer
	require.NoError(t, png.Encode(&buffer, image.NewGray(image.Rect(0, 0, width, height))))
	return buffer.Bytes()
}
