// Package config loads the server's key=value configuration file and
// layers it over the typed defaults named in spec §6.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// Server holds every tunable the dispatcher, listener, and logger need.
type Server struct {
	Address           string
	MinTick           time.Duration
	BlackoutToPing    time.Duration
	BlackoutToKick    time.Duration
	MaxUserNameLength int
	MaxRoomNameLength int
	LobbyName         string
	Welcome           string
	LogFile           string
	LogLevel          zapcore.Level
	ByteLimit         int
	BytesPerTick      int
}

const (
	defaultAddress        = "127.0.0.1:51516"
	defaultServerLog      = "freshd.log"
	defaultLobbyName      = "Lobby"
	defaultWelcome        = "Welcome to the server."
	defaultTickMS         = 500
	defaultByteLimit      = 512
	defaultBytesPerTick   = 6
	defaultLogLevel       = 2 // Warn
	defaultBlackoutPingMS = 10000
	defaultBlackoutKickMS = 20000
	defaultRosterWidth    = 24
)

// Load reads a key=value file at path (godotenv's native format) and
// layers it over the defaults table. A missing file is not an error:
// the defaults alone make a valid configuration, matching the
// original's "couldn't read config file, using defaults" fallback.
func Load(path string) (Server, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Server{}, fmt.Errorf("config: reading %q: %w", path, err)
		}
		values = map[string]string{}
	}

	cfg := Server{
		Address:           defaultAddress,
		MinTick:           time.Duration(defaultTickMS) * time.Millisecond,
		BlackoutToPing:    time.Duration(defaultBlackoutPingMS) * time.Millisecond,
		BlackoutToKick:    time.Duration(defaultBlackoutKickMS) * time.Millisecond,
		MaxUserNameLength: defaultRosterWidth,
		MaxRoomNameLength: defaultRosterWidth,
		LobbyName:         defaultLobbyName,
		Welcome:           defaultWelcome,
		LogFile:           defaultServerLog,
		LogLevel:          levelFromInt(defaultLogLevel),
		ByteLimit:         defaultByteLimit,
		BytesPerTick:      defaultBytesPerTick,
	}

	if v, ok := values["address"]; ok {
		cfg.Address = v
	}
	if v, ok, err := getMillis(values, "tick_ms"); ok {
		if err != nil {
			return cfg, err
		}
		cfg.MinTick = v
	}
	if v, ok, err := getMillis(values, "blackout_to_ping_ms"); ok {
		if err != nil {
			return cfg, err
		}
		cfg.BlackoutToPing = v
	}
	if v, ok, err := getMillis(values, "blackout_to_kick_ms"); ok {
		if err != nil {
			return cfg, err
		}
		cfg.BlackoutToKick = v
	}
	if v, ok, err := getInt(values, "max_user_name_length"); ok {
		if err != nil {
			return cfg, err
		}
		cfg.MaxUserNameLength = v
	}
	if v, ok, err := getInt(values, "max_room_name_length"); ok {
		if err != nil {
			return cfg, err
		}
		cfg.MaxRoomNameLength = v
	}
	if v, ok := values["lobby_name"]; ok {
		cfg.LobbyName = v
	}
	if v, ok := values["welcome"]; ok {
		cfg.Welcome = v
	}
	if v, ok := values["log_file"]; ok {
		cfg.LogFile = v
	}
	if v, ok, err := getInt(values, "log_level"); ok {
		if err != nil {
			return cfg, err
		}
		if v < 0 || v > 5 {
			return cfg, fmt.Errorf("config: invalid log_level %d, must be 0-5", v)
		}
		cfg.LogLevel = levelFromInt(v)
	}
	if v, ok, err := getInt(values, "byte_limit"); ok {
		if err != nil {
			return cfg, err
		}
		cfg.ByteLimit = v
	}
	if v, ok, err := getInt(values, "bytes_per_tick"); ok {
		if err != nil {
			return cfg, err
		}
		cfg.BytesPerTick = v
	}

	return cfg, nil
}

func getInt(values map[string]string, key string) (int, bool, error) {
	raw, ok := values[key]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("config: invalid integer for %q: %w", key, err)
	}
	return n, true, nil
}

func getMillis(values map[string]string, key string) (time.Duration, bool, error) {
	n, ok, err := getInt(values, key)
	if !ok || err != nil {
		return 0, ok, err
	}
	return time.Duration(n) * time.Millisecond, true, nil
}

// levelFromInt maps the 0-5 scale spec §6 defines onto zap's levels: 0
// disables logging outright (mapped to a level above Fatal that no
// real event reaches), 1-4 map onto Error/Warn/Info/Debug, and 5 maps
// onto Debug as well: the returned level does not tell 4 and 5 apart.
func levelFromInt(n int) zapcore.Level {
	switch n {
	case 0:
		return zapcore.Level(127)
	case 1:
		return zapcore.ErrorLevel
	case 2:
		return zapcore.WarnLevel
	case 3:
		return zapcore.InfoLevel
	case 4, 5:
		return zapcore.DebugLevel
	default:
		return zapcore.WarnLevel
	}
}
