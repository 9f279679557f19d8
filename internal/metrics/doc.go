// Package metrics exposes the pipeline's Prometheus collectors: frame
// throughput, escalation outcomes, budget denials, and offline queue health.
package metrics
