// Package persist defines the tenant-scoped storage contract for completed
// verification records and an in-memory implementation.
package persist
