package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewZapLogger_NilConfig(t *testing.T) {
	_, err := NewZapLogger(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "log config is nil")
}

func TestNewZapLogger_InvalidLevel(t *testing.T) {
	_, err := NewZapLogger(&conf.Log{Level: "loud", Format: "json"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewZapLogger_DevelopmentMode(t *testing.T) {
	logger, err := NewZapLogger(&conf.Log{Level: "debug", Format: "console", Env: "development"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Debug("debug message", zap.String("key", "value"))
}

func TestNewZapLogger_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "sysmgmt.log")

	logger, err := NewZapLogger(&conf.Log{
		Level:      "info",
		Format:     "json",
		Env:        "production",
		OutputFile: logFile,
	})
	require.NoError(t, err)

	logger.Debug("filtered out")
	logger.Info("probe finished", zap.String("dependency_id", "weather-kma"))
	_ = logger.Sync()

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	out := string(content)
	assert.Contains(t, out, `"service":"system-management"`)
	assert.Contains(t, out, `"env":"production"`)
	assert.Contains(t, out, "weather-kma")
	assert.NotContains(t, out, "filtered out")
}

func TestNewZapLogger_EnvFallback(t *testing.T) {
	t.Setenv("SYSMGMT_ENV", "staging")
	logFile := filepath.Join(t.TempDir(), "env.log")

	logger, err := NewZapLogger(&conf.Log{Level: "info", Format: "json", OutputFile: logFile})
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync()

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"env":"staging"`)
}
