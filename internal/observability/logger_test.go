// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/tmscan/internal/config"
)

func TestNewLogger(t *testing.T) {
	t.Run("console logger with colors", func(t *testing.T) {
		var buf bytes.Buffer
		logger, closer := NewLogger(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "tmscan",
			Colors:      config.ColorConfig{Info: "green"},
		}, zapcore.AddSync(&buf))
		defer closer.Close()

		logger.Named("mapper").Info("Diagram mapped")
		require.NoError(t, logger.Sync())

		out := buf.String()
		assert.Contains(t, out, colorGreen+"INFO"+colorReset)
		assert.Contains(t, out, "tmscan.mapper.")
		assert.Contains(t, out, "Diagram mapped")
	})

	t.Run("json logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger, _ := NewLogger(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, zapcore.AddSync(&buf))

		logger.Warn("Rule failed", zap.String("rule_id", "RULE-001"))
		logger.Debug("filtered out")
		require.NoError(t, logger.Sync())

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "exactly one JSON line expected")
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "Rule failed", entry["msg"])
		assert.Equal(t, "RULE-001", entry["rule_id"])
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		logger, _ := NewLogger(config.LoggerConfig{Level: "chatty", Format: "json"}, zapcore.AddSync(&buf))
		logger.Debug("hidden")
		logger.Info("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("writes json to the log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tmscan.log")
		var console bytes.Buffer
		logger, closer := NewLogger(config.LoggerConfig{
			Level:   "debug",
			Format:  "console",
			LogFile: path,
			MaxSize: 1,
		}, zapcore.AddSync(&console))

		logger.Info("to file", zap.Int("threats", 3))
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
		assert.Equal(t, "to file", entry["msg"])
		assert.Equal(t, float64(3), entry["threats"])
	})
}

func TestGlobalLogger(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	fallback := GetLogger()
	require.NotNil(t, fallback)

	var buf bytes.Buffer
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "global"}, zapcore.AddSync(&buf))
	// A second call must not replace the first logger.
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "second"}, zapcore.AddSync(&bytes.Buffer{}))

	GetLogger().Info("hello")
	Sync()
	assert.Contains(t, buf.String(), `"logger":"global"`)
}
