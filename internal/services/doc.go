// Package services holds cross-cutting helpers shared by pipeline components:
// the sentinel error taxonomy used to classify failures into outcome classes
// (transient, validation, budget, timeout) and context plumbing for session,
// tenant, job, and frame-sequence identifiers.
package services
