// Package workflow orchestrates the continuous verification pipeline: session
// start and resumption, the per-frame motion/detect/escalate/aggregate path,
// completion routing to the persistence backend or the offline queue, and the
// single-consumer per-session frame loop with its ordering and cancellation
// guarantees.
package workflow
