// Package offline keeps verification work safe while the device has no
// usable network. It provides a durable bounded submission queue on SQLite,
// a small in-memory capture backlog, and a syncer that drains the queue when
// connectivity returns. Both buffers evict oldest-first at capacity and the
// evicted entry is always handed back to the caller.
package offline
