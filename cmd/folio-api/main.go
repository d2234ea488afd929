package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"github.com/MarcoPoloResearchLab/folio/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/internal/config"
	"github.com/MarcoPoloResearchLab/folio/internal/content"
	"github.com/MarcoPoloResearchLab/folio/internal/database"
	"github.com/MarcoPoloResearchLab/folio/internal/jobs"
	"github.com/MarcoPoloResearchLab/folio/internal/logging"
	"github.com/MarcoPoloResearchLab/folio/internal/readiness"
	"github.com/MarcoPoloResearchLab/folio/internal/recognition"
	"github.com/MarcoPoloResearchLab/folio/internal/server"
	"github.com/MarcoPoloResearchLab/folio/internal/stitching"
	"github.com/MarcoPoloResearchLab/folio/internal/tagcache"
	"github.com/MarcoPoloResearchLab/folio/internal/telemetry"
	"github.com/MarcoPoloResearchLab/folio/internal/users"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	serviceName     = "folio-api"
	shutdownTimeout = 10 * time.Second
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Folio scanned document archive service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("content-backend", defaults.GetString("content.backend"), "Content backend (filesystem, minio)")
	cmd.PersistentFlags().String("content-root", defaults.GetString("content.root"), "Directory for the filesystem content backend")
	cmd.PersistentFlags().String("redis-url", "", "Redis URL for the tag cache (in-memory when empty)")
	cmd.PersistentFlags().String("vertex-project", "", "Google Cloud project for text recognition (disabled when empty)")
	cmd.PersistentFlags().Bool("telemetry", defaults.GetBool("telemetry.enabled"), "Export traces over OTLP")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "content.backend", "content-backend")
	bindFlag(cmd, "content.root", "content-root")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "vertex.project", "vertex-project")
	bindFlag(cmd, "telemetry.enabled", "telemetry")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, serviceName)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(signalCtx, telemetry.Config{
		Enabled:     appConfig.TelemetryEnabled,
		Protocol:    appConfig.TelemetryProtocol,
		ServiceName: serviceName,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	contentStore, err := openContentStore(signalCtx, appConfig)
	if err != nil {
		return err
	}

	tagCache, closeTagCache, err := openTagCache(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeTagCache()

	ids := archive.NewUUIDProvider()
	archiveService, err := archive.NewService(archive.ServiceConfig{
		Database:   db,
		Content:    contentStore,
		TagCache:   tagCache,
		Clock:      time.Now,
		IDProvider: ids,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var recognizer recognition.Engine
	if appConfig.Vertex.Project != "" {
		vertexEngine, err := recognition.NewVertexEngine(signalCtx, recognition.VertexConfig{
			ProjectID: appConfig.Vertex.Project,
			Region:    appConfig.Vertex.Region,
			Model:     appConfig.Vertex.Model,
			Content:   contentStore,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		defer vertexEngine.Close() //nolint:errcheck
		recognizer = vertexEngine
	} else {
		logger.Warn("text recognition disabled: vertex.project is not set")
	}

	jobStore, err := jobs.NewStore(db, ids, time.Now, logger)
	if err != nil {
		return err
	}
	queue := jobs.NewQueue(appConfig.QueueCapacityHint)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	jobMetrics, err := jobs.NewMetrics(registry, queue.Len)
	if err != nil {
		return err
	}

	jobService, err := jobs.NewService(jobs.ServiceConfig{
		Store:       jobStore,
		Queue:       queue,
		Archive:     archiveService,
		Content:     contentStore,
		Recognition: recognizer,
		Stitching:   stitching.NewVerticalStitcher(logger),
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	requeued, interrupted, err := jobService.Resume(signalCtx)
	if err != nil {
		return err
	}
	logger.Info("job recovery finished", zap.Int("requeued", requeued), zap.Int64("interrupted", interrupted))

	dispatcher, err := jobs.NewDispatcher(jobs.DispatcherConfig{
		Queue:   queue,
		Store:   jobStore,
		Metrics: jobMetrics,
		Clock:   time.Now,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		if err := dispatcher.Run(signalCtx); err != nil {
			logger.Error("dispatcher stopped", zap.Error(err))
		}
	}()

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return err
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	gate := readiness.NewGate()
	go readiness.NewWarmer(gate, archiveService, tagCache, logger).Run(signalCtx)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Archive:        archiveService,
		Jobs:           jobService,
		Sessions:       sessions,
		Users:          userService,
		Gate:           gate,
		Registry:       registry,
		ServerName:     appConfig.ServerName,
		AllowedOrigins: appConfig.CORSAllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		<-dispatcherDone
		logger.Info("server stopped")
		return err
	case err := <-errCh:
		stop()
		<-dispatcherDone
		return err
	}
}

func openContentStore(ctx context.Context, appConfig config.AppConfig) (content.Store, error) {
	if appConfig.ContentBackend == config.ContentBackendMinIO {
		return content.NewMinIOStore(ctx, content.MinIOConfig{
			Endpoint:  appConfig.MinIO.Endpoint,
			AccessKey: appConfig.MinIO.AccessKey,
			SecretKey: appConfig.MinIO.SecretKey,
			Bucket:    appConfig.MinIO.Bucket,
			UseSSL:    appConfig.MinIO.UseSSL,
		})
	}
	return content.NewOSFileStore(appConfig.ContentRoot)
}

// tagCacheBackend is what both the archive and the warmer need from the tag cache.
type tagCacheBackend interface {
	archive.TagCache
	readiness.TagSink
}

func openTagCache(appConfig config.AppConfig, logger *zap.Logger) (tagCacheBackend, func(), error) {
	if appConfig.RedisURL == "" {
		logger.Info("tag cache configured", zap.String("backend", "memory"))
		return tagcache.NewMemory(), func() {}, nil
	}
	redisCache, err := tagcache.NewRedis(appConfig.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("tag cache configured", zap.String("backend", "redis"))
	return redisCache, func() {
		if err := redisCache.Close(); err != nil {
			logger.Warn("tag cache close failed", zap.Error(err))
		}
	}, nil
}
