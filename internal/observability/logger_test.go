package observability

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/apiprobe/apiprobe/internal/config"
)

// The logger tests share the package-global logger state, so they run
// sequentially and reset it around every case.

func TestInitializeWritesToConsole(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	var buf bytes.Buffer
	Initialize(config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "apiprobe-test",
	}, zapcore.AddSync(&buf))

	GetLogger().Info("hello from the test")

	out := buf.String()
	assert.Contains(t, out, "hello from the test")
	assert.Contains(t, out, "apiprobe-test")
	assert.Contains(t, out, `"INFO"`)
}

func TestInitializeOnlyOnce(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	var first, second bytes.Buffer
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "one"}, zapcore.AddSync(&first))
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "two"}, zapcore.AddSync(&second))

	GetLogger().Info("single initialization")

	assert.Contains(t, first.String(), "single initialization")
	assert.Empty(t, second.String(), "second Initialize must be a no-op")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	var buf bytes.Buffer
	Initialize(config.LoggerConfig{Level: "chatty", Format: "json", ServiceName: "svc"}, zapcore.AddSync(&buf))

	GetLogger().Debug("should be filtered")
	GetLogger().Info("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should be filtered")
	assert.Contains(t, out, "should appear")
}

func TestFileCoreWritesJSON(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	logFile := filepath.Join(t.TempDir(), "probe.log")
	var buf bytes.Buffer
	Initialize(config.LoggerConfig{
		Level:       "info",
		Format:      "console",
		ServiceName: "svc",
		LogFile:     logFile,
		MaxSize:     1,
	}, zapcore.AddSync(&buf))

	GetLogger().Info("to both sinks")
	Sync()

	assert.FileExists(t, logFile)
	assert.Contains(t, buf.String(), "to both sinks")
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	logger := GetLogger()
	require.NotNil(t, logger, "fallback logger must never be nil")
}
