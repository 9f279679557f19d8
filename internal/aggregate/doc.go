// Package aggregate reconciles raw per-frame detections into stable
// incremental updates: newly verified, maintained, and removed item sets plus
// confidence-boost telemetry. Verification is monotone for the life of a
// session; disappearance only ever affects the per-frame diff.
package aggregate
