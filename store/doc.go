// Package store persists executions, node attempts, pause snapshots and
// on-chain transactions behind GORM. It is the coordination point for
// concurrent workers: node dispatch goes through a compare-and-swap
// claim so a node attempt runs at most once, and abandoned claims are
// reclaimed by heartbeat age.
package store
