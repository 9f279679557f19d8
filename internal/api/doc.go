// Package api defines the daemon's HTTP payload types, the websocket event
// hub, and the client the CLI uses to talk to a running daemon.
package api
