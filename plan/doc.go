// Package plan manages research plans: ordered task lists with parallel
// open/done statuses. The package is pure. It never talks to a model and
// every operation returns a new Plan so a partially applied update can never
// be observed by a checkpoint.
//
// Invariants:
//   - len(tasks) == len(statuses)
//   - Advance flips at most one status (the first open one)
//   - a generated plan longer than the configured maximum collapses into the
//     single-task overflow plan (see Normalize)
package plan
