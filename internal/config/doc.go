// Package config loads, normalizes, and validates Loadout configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// LOADOUT_CLOUD_VISION_API_KEY. The Config type centralizes every knob the
// daemon and CLI need, from detection thresholds and budget ceilings to queue
// capacities, so they can be discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
