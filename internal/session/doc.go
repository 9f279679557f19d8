// Package session defines the verification session model and its SQLite
// persistence. A session is one continuous loading episode for a job: its
// verified-item set grows monotonically, its per-item confidence history is
// kept monotone, and its full state survives process restarts so the workflow
// manager can offer resumption.
package session
