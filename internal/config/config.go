package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
	// APIToken, when set, requires "Authorization: Bearer <token>" on every
	// daemon API request.
	APIToken string `toml:"api_token"`
}

// Detection contains thresholds for the local detector and frame pipeline.
type Detection struct {
	// ConfidenceThreshold is the minimum per-item confidence required to mark
	// an item verified. Default: 0.70
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	// MaxLocalRetries is the number of local-only attempts per session before
	// escalation is forced. Default: 3
	MaxLocalRetries int `toml:"max_local_retries"`
	// NominalFPS is the requested capture rate under normal conditions.
	NominalFPS float64 `toml:"nominal_fps"`
	// LowBatteryFPS is the reduced capture rate applied below LowBatteryLevel.
	LowBatteryFPS float64 `toml:"low_battery_fps"`
	// LowBatteryLevel is the battery fraction below which throttling applies.
	LowBatteryLevel float64 `toml:"low_battery_level"`
	// MaxInFlight caps concurrent detection calls across all sessions.
	MaxInFlight int `toml:"max_in_flight"`
}

// CloudVision contains configuration for the costed cloud detector.
type CloudVision struct {
	Endpoint        string `toml:"endpoint"`
	APIKey          string `toml:"api_key"`
	Model           string `toml:"model"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	CooldownSeconds int    `toml:"cooldown_seconds"`
	// EstimatedCostCents is the reservation amount requested from the budget
	// guard before each call; the provider's reported cost is committed.
	EstimatedCostCents int64 `toml:"estimated_cost_cents"`
}

// Budget contains the per-tenant daily spend ceiling.
type Budget struct {
	DailyCostCapCents int64 `toml:"daily_cost_cap_cents"`
	DailyRequestCap   int   `toml:"daily_request_cap"`
	// RedisAddr switches the ledger to Redis when set, for fleets that share
	// one budget across devices. Empty means the local SQLite ledger.
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// Backend contains the remote verification store connection settings. An
// empty endpoint keeps every completed session in the offline queue.
type Backend struct {
	Endpoint       string `toml:"endpoint"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Session contains session lifecycle policy.
type Session struct {
	StalenessMinutes     int     `toml:"staleness_minutes"`
	LocationDriftDegrees float64 `toml:"location_drift_degrees"`
}

// Queue contains offline queue sizing and retry policy.
type Queue struct {
	SubmissionCapacity int `toml:"submission_capacity"`
	CaptureCapacity    int `toml:"capture_capacity"`
	MaxSyncAttempts    int `toml:"max_sync_attempts"`
	SyncTimeoutSeconds int `toml:"sync_timeout_seconds"`
}

// Jobs contains job matching parameters.
type Jobs struct {
	// NearbyRadiusKM bounds candidate jobs considered for active-job detection.
	NearbyRadiusKM float64 `toml:"nearby_radius_km"`
	MaxCandidates  int     `toml:"max_candidates"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Budget         bool   `toml:"budget"`
	Queue          bool   `toml:"queue"`
	Completion     bool   `toml:"completion"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Loadout.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Detection: local detector thresholds and frame pacing
//   - CloudVision: costed cloud detector connection settings
//   - Budget: per-tenant daily spend/request ceiling and ledger backend
//   - Session: resumption staleness and location drift policy
//   - Queue: offline submission queue and capture buffer sizing
//   - Jobs: nearby-job ranking parameters
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Detection     Detection     `toml:"detection"`
	CloudVision   CloudVision   `toml:"cloud_vision"`
	Budget        Budget        `toml:"budget"`
	Backend       Backend       `toml:"backend"`
	Session       Session       `toml:"session"`
	Queue         Queue         `toml:"queue"`
	Jobs          Jobs          `toml:"jobs"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/loadout/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("loadout.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
