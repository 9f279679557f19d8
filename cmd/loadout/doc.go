// Command loadout is the operator CLI: it inspects the running daemon's
// status, offline queue, budget consumption, and sessions over the HTTP API.
package main
