package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(50<<20), cfg.Import.MaxUploadBytes)
	assert.Equal(t, int64(5<<20), cfg.Import.LargeFileBytes)
	assert.Equal(t, 50, cfg.Import.PreviewMaxLines)
	assert.Equal(t, 500, cfg.Import.BatchSize)
	assert.Equal(t, 100, cfg.Import.ProgressEvery)
	assert.Equal(t, 8, cfg.Import.FallbackConcurrency)
	assert.Equal(t, time.Hour, cfg.Import.UploadTTL)
	assert.Equal(t, 5*time.Minute, cfg.Import.SessionGrace)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "BRL", cfg.Import.Currency)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("IMPORT_BATCH_SIZE", "50")
	t.Setenv("IMPORT_UPLOAD_TTL", "30m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Import.BatchSize)
	assert.Equal(t, 30*time.Minute, cfg.Import.UploadTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{"JWT_SECRET": ""}},
		{name: "gcs without bucket", env: map[string]string{"JWT_SECRET": "s", "STORAGE_TYPE": "gcs", "STORAGE_GCS_BUCKET": ""}},
		{name: "zero batch", env: map[string]string{"JWT_SECRET": "s", "IMPORT_BATCH_SIZE": "0"}},
		{name: "batch over parameter limit", env: map[string]string{"JWT_SECRET": "s", "IMPORT_BATCH_SIZE": "6000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
