package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDetection(); err != nil {
		return err
	}
	if err := c.validateCloudVision(); err != nil {
		return err
	}
	if err := c.validateBudget(); err != nil {
		return err
	}
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDetection() error {
	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
		return errors.New("detection.confidence_threshold must be between 0 and 1")
	}
	if c.Detection.MaxLocalRetries < 1 {
		return errors.New("detection.max_local_retries must be at least 1")
	}
	if c.Detection.NominalFPS <= 0 {
		return errors.New("detection.nominal_fps must be positive")
	}
	if c.Detection.LowBatteryFPS <= 0 || c.Detection.LowBatteryFPS > c.Detection.NominalFPS {
		return errors.New("detection.low_battery_fps must be positive and no higher than nominal_fps")
	}
	if c.Detection.LowBatteryLevel < 0 || c.Detection.LowBatteryLevel > 1 {
		return errors.New("detection.low_battery_level must be between 0 and 1")
	}
	if c.Detection.MaxInFlight < 1 {
		return errors.New("detection.max_in_flight must be at least 1")
	}
	return nil
}

func (c *Config) validateCloudVision() error {
	if strings.TrimSpace(c.CloudVision.Endpoint) == "" {
		return nil // cloud escalation disabled; local-only operation
	}
	if strings.TrimSpace(c.CloudVision.APIKey) == "" {
		return errors.New("cloud_vision.api_key must be set when cloud_vision.endpoint is configured")
	}
	if c.CloudVision.TimeoutSeconds < 1 {
		return errors.New("cloud_vision.timeout_seconds must be at least 1")
	}
	if c.CloudVision.CooldownSeconds < 1 {
		return errors.New("cloud_vision.cooldown_seconds must be at least 1")
	}
	if c.CloudVision.EstimatedCostCents < 1 {
		return errors.New("cloud_vision.estimated_cost_cents must be at least 1")
	}
	return nil
}

func (c *Config) validateBudget() error {
	if c.Budget.DailyCostCapCents < 0 {
		return errors.New("budget.daily_cost_cap_cents must not be negative")
	}
	if c.Budget.DailyRequestCap < 0 {
		return errors.New("budget.daily_request_cap must not be negative")
	}
	if c.Budget.RedisDB < 0 {
		return errors.New("budget.redis_db must not be negative")
	}
	return nil
}

func (c *Config) validateBackend() error {
	if strings.TrimSpace(c.Backend.Endpoint) == "" {
		return nil // offline-only operation; records stay queued
	}
	if c.Backend.TimeoutSeconds < 1 {
		return errors.New("backend.timeout_seconds must be at least 1")
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.StalenessMinutes < 1 {
		return errors.New("session.staleness_minutes must be at least 1")
	}
	if c.Session.LocationDriftDegrees <= 0 {
		return errors.New("session.location_drift_degrees must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.SubmissionCapacity < 1 {
		return errors.New("queue.submission_capacity must be at least 1")
	}
	if c.Queue.CaptureCapacity < 1 {
		return errors.New("queue.capture_capacity must be at least 1")
	}
	if c.Queue.MaxSyncAttempts < 1 {
		return errors.New("queue.max_sync_attempts must be at least 1")
	}
	if c.Queue.SyncTimeoutSeconds < 1 {
		return fmt.Errorf("queue.sync_timeout_seconds must be at least 1, got %d", c.Queue.SyncTimeoutSeconds)
	}
	return nil
}

func (c *Config) validateJobs() error {
	if c.Jobs.NearbyRadiusKM <= 0 {
		return errors.New("jobs.nearby_radius_km must be positive")
	}
	if c.Jobs.MaxCandidates < 1 {
		return errors.New("jobs.max_candidates must be at least 1")
	}
	return nil
}
