package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCloudVision()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeCloudVision() {
	c.CloudVision.Endpoint = strings.TrimSpace(c.CloudVision.Endpoint)
	if key := strings.TrimSpace(os.Getenv("LOADOUT_CLOUD_VISION_API_KEY")); key != "" && strings.TrimSpace(c.CloudVision.APIKey) == "" {
		c.CloudVision.APIKey = key
	}
	c.CloudVision.APIKey = strings.TrimSpace(c.CloudVision.APIKey)
	c.CloudVision.Model = strings.TrimSpace(c.CloudVision.Model)
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format != "json" && format != "console" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	switch level {
	case "debug", "info", "warn", "error":
	default:
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
