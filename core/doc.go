// Package core provides the foundational domain types shared by the research
// engine and its collaborators:
//
//   - Messages (tagged union over user, assistant and tool results with an
//     explicit plain/structured content kind) and the append-only History
//   - Sentinel markers delimiting research turns and executed tasks
//   - ExecutionContext and Checkpoint, plus the CheckpointStore contract
//   - Stream Events (the caller-facing NDJSON protocol)
//   - Error classification used to decide between retry and abort
//   - StepLimiter, the hard per-run transition budget
//
// Implementation concerns (persistence, model access, orchestration) live in
// other packages that depend on these small types.
package core
