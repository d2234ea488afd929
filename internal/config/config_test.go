package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	require.NoError(t, err)
	assert.Equal(t, defaultHTTPAddress, cfg.HTTPAddress)
	assert.Equal(t, defaultServerName, cfg.ServerName)
	assert.Equal(t, ContentBackendFilesystem, cfg.ContentBackend)
	assert.Equal(t, defaultIssuer, cfg.AuthIssuer)
	assert.Equal(t, defaultQueueCapacityHint, cfg.QueueCapacityHint)
	assert.Empty(t, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.TelemetryEnabled)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("FOLIO_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("FOLIO_CONTENT_BACKEND", "MinIO")
	t.Setenv("FOLIO_MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("FOLIO_MINIO_BUCKET", "scans")
	t.Setenv("FOLIO_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(NewViper())
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AuthSigningSecret)
	assert.Equal(t, ContentBackendMinIO, cfg.ContentBackend)
	assert.Equal(t, "scans", cfg.MinIO.Bucket)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name     string
		settings map[string]any
		message  string
	}{
		{name: "missing secret", settings: map[string]any{}, message: "auth.signing_secret"},
		{name: "unknown backend", settings: map[string]any{"auth.signing_secret": "s", "content.backend": "ftp"}, message: "content.backend"},
		{name: "minio without bucket", settings: map[string]any{"auth.signing_secret": "s", "content.backend": "minio", "minio.endpoint": "host:9000"}, message: "minio.bucket"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.settings {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			require.Error(t, err)
			assert.Contains(t, err.Error(), testCase.message)
		})
	}
}
