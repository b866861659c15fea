// Package orchestrator owns the lifecycle of role-tagged agent instances.
//
// Responsibilities:
//   - Create instances singly or as a throttled team from the role catalog.
//   - Drive each backed instance through the startup choreography.
//   - Terminate instances and remove them after a grace period.
//   - Poll process output into normalised history snapshots.
//   - Keep display height bookkeeping within bounds.
package orchestrator
