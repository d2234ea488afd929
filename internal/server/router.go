// Package server exposes the archive and job services over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"github.com/MarcoPoloResearchLab/folio/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/internal/jobs"
	"github.com/MarcoPoloResearchLab/folio/internal/readiness"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const defaultServerName = "Folio"

var (
	errMissingArchiveService = errors.New("archive service dependency required")
	errMissingJobService     = errors.New("job service dependency required")
	errMissingSessions       = errors.New("session validator dependency required")
	errMissingUsers          = errors.New("user resolver dependency required")
	errMissingGate           = errors.New("readiness gate dependency required")
)

// SessionValidator authenticates a request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserResolver maps session claims onto the canonical user id.
type UserResolver interface {
	ResolveUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
}

// Dependencies wires the HTTP handler. Registry defaults to a fresh prometheus registry.
type Dependencies struct {
	Archive        *archive.Service
	Jobs           *jobs.Service
	Sessions       SessionValidator
	Users          UserResolver
	Gate           *readiness.Gate
	Registry       *prometheus.Registry
	ServerName     string
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Archive == nil {
		return nil, errMissingArchiveService
	}
	if deps.Jobs == nil {
		return nil, errMissingJobService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.Gate == nil {
		return nil, errMissingGate
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics, err := newRequestMetrics(registry)
	if err != nil {
		return nil, err
	}
	serverName := deps.ServerName
	if serverName == "" {
		serverName = defaultServerName
	}

	handler := &httpHandler{
		archive:    deps.Archive,
		jobs:       deps.Jobs,
		sessions:   deps.Sessions,
		users:      deps.Users,
		gate:       deps.Gate,
		serverName: serverName,
		logger:     logger,
	}

	router := gin.New()
	router.MaxMultipartMemory = maxUploadBytes
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(metrics.handler())
	router.Use(tracingMiddleware())

	router.GET("/healthz", handler.handleHealth)
	router.GET("/about", handler.handleAbout)
	router.GET(metricsPath, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	api := router.Group("/api")
	api.Use(requireReady(deps.Gate))
	api.Use(handler.authorizeRequest)

	api.GET("/documents", handler.handleListDocuments)
	api.POST("/documents", handler.handleCreateDocument)
	api.GET("/documents/:documentID", handler.handleGetDocument)
	api.PATCH("/documents/:documentID", handler.handleUpdateDocument)
	api.DELETE("/documents/:documentID", handler.handleDeleteDocument)
	api.POST("/documents/:documentID/pages", handler.handleAddPage)
	api.DELETE("/documents/:documentID/pages/:pageID", handler.handleRemovePage)
	api.PUT("/documents/:documentID/pages/order", handler.handleSetPageOrders)
	api.PUT("/documents/:documentID/pages/:pageID/order", handler.handleInsertPage)
	api.GET("/documents/:documentID/versions", handler.handleListDocumentVersions)
	api.POST("/documents/:documentID/revert", handler.handleRevertDocument)
	api.POST("/documents/:documentID/stitch", handler.handleStitchDocument)

	api.GET("/pages", handler.handleListPages)
	api.POST("/pages", handler.handleCreatePage)
	api.GET("/pages/search", handler.handleSearchPages)
	api.GET("/pages/:pageID", handler.handleGetPage)
	api.PATCH("/pages/:pageID", handler.handleUpdatePage)
	api.DELETE("/pages/:pageID", handler.handleDeletePage)
	api.POST("/pages/:pageID/versions", handler.handleCreatePageVersion)
	api.GET("/pages/:pageID/versions", handler.handleListPageVersions)
	api.POST("/pages/:pageID/revert", handler.handleRevertPage)
	api.POST("/pages/:pageID/stitch", handler.handleStitchPage)

	api.GET("/versions/:versionID/content", handler.handleVersionContent)
	api.POST("/versions/:versionID/ocr", handler.handleSubmitOcr)

	api.GET("/jobs", handler.handleListJobs)
	api.GET("/jobs/:jobID", handler.handleGetJob)

	api.GET("/tags", handler.handleListTags)
	api.GET("/stats", handler.handleStats)

	return router, nil
}

type httpHandler struct {
	archive    *archive.Service
	jobs       *jobs.Service
	sessions   SessionValidator
	users      UserResolver
	gate       *readiness.Gate
	serverName string
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleAbout reports 503 with the gate's reason until startup work has settled.
func (h *httpHandler) handleAbout(c *gin.Context) {
	snapshot := h.gate.Snapshot()
	if snapshot.State == readiness.StateInitializing {
		c.JSON(http.StatusServiceUnavailable, snapshot)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"server_name": h.serverName,
		"status":      snapshot.State,
		"message":     snapshot.Reason,
	})
}

func tracingMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("github.com/MarcoPoloResearchLab/folio/internal/server")
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.Request.URL.Path)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(
			attribute.String("http.route", c.FullPath()),
			attribute.Int("http.status_code", c.Writer.Status()),
		)
	}
}
