// Package daemon runs the background half of loadout: the offline queue
// syncer, the connectivity watcher, and the HTTP/websocket API the CLI and
// local UIs talk to. A file lock enforces one daemon per data directory.
package daemon
