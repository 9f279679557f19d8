// Package jobs attributes detection activity to scheduled work: ranking
// nearby jobs by distance and remaining checklist work, matching detected
// containers to jobs with explainable reasons, and deciding when a container
// change means the technician switched jobs mid-session.
package jobs
