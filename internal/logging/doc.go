// Package logging builds the slog loggers used across the daemon and CLI.
//
// Two handler formats are supported: a compact console format that hoists the
// component attribute into the message prefix, and standard JSON for log
// shippers. Helpers provide typed attribute constructors, component loggers,
// and context-derived fields (session, tenant, job, frame sequence) so log
// lines stay greppable across the pipeline.
package logging
