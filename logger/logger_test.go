package logger_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chain-gateway/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitLoggerWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, logger.InitLogger(path, "info"))
	t.Cleanup(func() { logger.Logger = zap.NewNop() })

	logger.Logger.Debug("hidden")
	logger.Logger.Info("Delegate registry reloaded", zap.Int("delegates", 3))
	require.NoError(t, logger.Logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Delegate registry reloaded", entry["msg"])
	assert.Equal(t, "chain-gateway", entry["service"])
	assert.Equal(t, float64(3), entry["delegates"])
	assert.Contains(t, entry, "time")
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, logger.InitLogger("", "loud"))
}
