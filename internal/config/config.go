// Package config loads runtime configuration from flags, environment and an optional file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "FOLIO"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "folio.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "folio_session"
	defaultIssuer            = "folio-auth"
	defaultServerName        = "Folio"
	defaultContentBackend    = ContentBackendFilesystem
	defaultContentRoot       = "content"
	defaultVertexRegion      = "us-central1"
	defaultTelemetryProtocol = "grpc"
	defaultQueueCapacityHint = 64

	ContentBackendFilesystem = "filesystem"
	ContentBackendMinIO      = "minio"
)

// MinIOConfig addresses the S3-compatible content bucket.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// VertexConfig selects the Gemini model used for text recognition. An empty project disables OCR.
type VertexConfig struct {
	Project string
	Region  string
	Model   string
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	ServerName         string
	DatabasePath       string
	LogLevel           string
	AuthSigningSecret  string
	AuthIssuer         string
	AuthCookieName     string
	ContentBackend     string
	ContentRoot        string
	MinIO              MinIOConfig
	RedisURL           string
	Vertex             VertexConfig
	TelemetryEnabled   bool
	TelemetryProtocol  string
	CORSAllowedOrigins []string
	QueueCapacityHint  int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("server.name", defaultServerName)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("content.backend", defaultContentBackend)
	configViper.SetDefault("content.root", defaultContentRoot)
	configViper.SetDefault("minio.use_ssl", true)
	configViper.SetDefault("vertex.region", defaultVertexRegion)
	configViper.SetDefault("telemetry.enabled", false)
	configViper.SetDefault("telemetry.protocol", defaultTelemetryProtocol)
	configViper.SetDefault("cors.allowed_origins", []string{})
	configViper.SetDefault("jobs.queue_capacity_hint", defaultQueueCapacityHint)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		ServerName:        configViper.GetString("server.name"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:        configViper.GetString("auth.issuer"),
		AuthCookieName:    configViper.GetString("auth.cookie_name"),
		ContentBackend:    strings.ToLower(strings.TrimSpace(configViper.GetString("content.backend"))),
		ContentRoot:       configViper.GetString("content.root"),
		MinIO: MinIOConfig{
			Endpoint:  configViper.GetString("minio.endpoint"),
			AccessKey: configViper.GetString("minio.access_key"),
			SecretKey: configViper.GetString("minio.secret_key"),
			Bucket:    configViper.GetString("minio.bucket"),
			UseSSL:    configViper.GetBool("minio.use_ssl"),
		},
		RedisURL: configViper.GetString("redis.url"),
		Vertex: VertexConfig{
			Project: configViper.GetString("vertex.project"),
			Region:  configViper.GetString("vertex.region"),
			Model:   configViper.GetString("vertex.model"),
		},
		TelemetryEnabled:   configViper.GetBool("telemetry.enabled"),
		TelemetryProtocol:  configViper.GetString("telemetry.protocol"),
		CORSAllowedOrigins: splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
		QueueCapacityHint:  configViper.GetInt("jobs.queue_capacity_hint"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitOrigins accepts both list values and a single comma-separated env value.
func splitOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.ContentBackend {
	case ContentBackendFilesystem:
		if strings.TrimSpace(c.ContentRoot) == "" {
			return fmt.Errorf("content.root is required for the filesystem backend")
		}
	case ContentBackendMinIO:
		if strings.TrimSpace(c.MinIO.Endpoint) == "" || strings.TrimSpace(c.MinIO.Bucket) == "" {
			return fmt.Errorf("minio.endpoint and minio.bucket are required for the minio backend")
		}
	default:
		return fmt.Errorf("content.backend must be %q or %q, got %q", ContentBackendFilesystem, ContentBackendMinIO, c.ContentBackend)
	}
	if c.QueueCapacityHint < 0 {
		return fmt.Errorf("jobs.queue_capacity_hint must not be negative")
	}
	return nil
}
