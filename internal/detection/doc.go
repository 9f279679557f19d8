// Package detection defines the shared vocabulary of the verification
// pipeline: frames, per-frame analysis results, detected items and containers,
// checklist entries, and the boundary interfaces for the on-device detector,
// the motion gate, and the checklist source. The detectors themselves are
// external collaborators; this package only fixes their contracts.
package detection
