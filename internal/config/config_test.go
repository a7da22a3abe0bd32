package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.StorageDriver)
	assert.Equal(t, "./archcore.db", cfg.SQLitePath)
	assert.Equal(t, "./exports", cfg.SnapshotRoot)
	assert.False(t, cfg.SnapshotGit)
	assert.Equal(t, "none", cfg.BlobDriver)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"ARCHCORE_STORAGE_DRIVER":     "postgres",
		"ARCHCORE_POSTGRES_DSN":       "postgres://u:p@db/archcore",
		"ARCHCORE_SNAPSHOT_GIT":       "true",
		"ARCHCORE_BLOB_DRIVER":        "s3",
		"ARCHCORE_BLOB_S3_BUCKET":     "models",
		"ARCHCORE_BLOB_S3_PATH_STYLE": "1",
		"ARCHCORE_LOG_LEVEL":          " debug ",
	}))
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db/archcore", cfg.PostgresDSN)
	assert.True(t, cfg.SnapshotGit)
	assert.Equal(t, "models", cfg.S3.Bucket)
	assert.True(t, cfg.S3.PathStyle)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestFromEnvRejectsInvalidSettings(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{
		"ARCHCORE_STORAGE_DRIVER": "postgres",
		"ARCHCORE_BLOB_DRIVER":    "s3",
		"ARCHCORE_SNAPSHOT_GIT":   "maybe",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARCHCORE_POSTGRES_DSN")
	assert.Contains(t, err.Error(), "ARCHCORE_BLOB_S3_BUCKET")
	assert.Contains(t, err.Error(), "ARCHCORE_SNAPSHOT_GIT")

	_, err = FromEnv(envMap(map[string]string{"ARCHCORE_STORAGE_DRIVER": "mongo", "ARCHCORE_BLOB_DRIVER": "gcs"}))
	require.Error(t, err)
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(file, []byte("ARCHCORE_HTTP_ADDR=:9999\nARCHCORE_LOG_LEVEL=warn\n"), 0o600))
	t.Setenv("ARCHCORE_LOG_LEVEL", "error")
	t.Setenv("ARCHCORE_HTTP_ADDR", "")
	require.NoError(t, os.Unsetenv("ARCHCORE_HTTP_ADDR"))

	cfg, err := Load(file, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, "error", cfg.LogLevel, "existing variables win")
}

func TestPropertySchemas(t *testing.T) {
	none, err := Config{}.PropertySchemas()
	require.NoError(t, err)
	assert.Nil(t, none)

	dir := t.TempDir()
	file := filepath.Join(dir, "schemas.json")
	require.NoError(t, os.WriteFile(file, []byte(`[{"elementType":"node","attributes":{"env":{"kind":"enum","enumValues":["prod","test"]}}}]`), 0o600))
	schemas, err := Config{SchemaFile: file}.PropertySchemas()
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, []string{"prod", "test"}, schemas[0].Attributes["env"].EnumValues)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"attributes":{}}]`), 0o600))
	_, err = Config{SchemaFile: bad}.PropertySchemas()
	assert.Error(t, err)
	_, err = Config{SchemaFile: filepath.Join(dir, "missing.json")}.PropertySchemas()
	assert.Error(t, err)
}
