// Package connectivity holds the process-wide online/offline signal that the
// offline queue and session workflow observe to choose between direct
// persistence and enqueueing.
package connectivity
