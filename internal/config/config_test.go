package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadDefaultsOnMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.env"))
	require.NoError(t, err)

	assert.Equal(t, defaultAddress, cfg.Address)
	assert.Equal(t, 500*time.Millisecond, cfg.MinTick)
	assert.Equal(t, 10*time.Second, cfg.BlackoutToPing)
	assert.Equal(t, 20*time.Second, cfg.BlackoutToKick)
	assert.Equal(t, defaultRosterWidth, cfg.MaxUserNameLength)
	assert.Equal(t, defaultRosterWidth, cfg.MaxRoomNameLength)
	assert.Equal(t, "Lobby", cfg.LobbyName)
	assert.Equal(t, zapcore.WarnLevel, cfg.LogLevel)
	assert.Equal(t, defaultByteLimit, cfg.ByteLimit)
	assert.Equal(t, defaultBytesPerTick, cfg.BytesPerTick)
}

func writeEnv(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "freshd.env")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeEnv(t, "address=0.0.0.0:9999\ntick_ms=250\nlobby_name=Main\nlog_level=4\nbyte_limit=1024\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9999", cfg.Address)
	assert.Equal(t, 250*time.Millisecond, cfg.MinTick)
	assert.Equal(t, "Main", cfg.LobbyName)
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel)
	assert.Equal(t, 1024, cfg.ByteLimit)
}

func TestLoadRejectsInvalidInteger(t *testing.T) {
	path := writeEnv(t, "tick_ms=not-a-number\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsOutOfRangeLogLevel(t *testing.T) {
	path := writeEnv(t, "log_level=9\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLevelFromIntDisabledSentinel(t *testing.T) {
	assert.Equal(t, zapcore.Level(127), levelFromInt(0))
	assert.Equal(t, zapcore.ErrorLevel, levelFromInt(1))
	assert.Equal(t, zapcore.WarnLevel, levelFromInt(2))
	assert.Equal(t, zapcore.InfoLevel, levelFromInt(3))
	assert.Equal(t, zapcore.DebugLevel, levelFromInt(4))
	assert.Equal(t, zapcore.DebugLevel, levelFromInt(5))
}
