// Package engine implements the checkpointed research state machine.
//
// A run answers one user request on a thread. Every request is routed first
// and then either answered directly, turned into a clarifying question, or
// researched with a plan of tool tasks:
//
//	START → ROUTE ─┬→ ANSWER_DIRECT → END
//	               ├→ ASK_HUMAN → END
//	               └→ PLAN → SELECT_TOOL → EXECUTE_TOOL → UPDATE_STATUS ─┐
//	                          ↑                                          │
//	                          ├──────────── open tasks left ─────────────┤
//	                          │                                          ↓
//	                     REVISE_PLAN ← not sufficient ←──────────── JUDGE_REPLAN
//	                                                                     │
//	                                        sufficient or max turns → FINALIZE → END
//
// # Nodes and deltas
//
// Nodes never mutate shared state. Each node receives a copy of the
// ExecutionContext and the thread history and returns an Outcome: the next
// state plus a Delta of messages to append and a context update. The engine
// validates the edge with CanTransition, applies the delta to a copy and
// saves a checkpoint before the new state becomes visible. A crash between
// two transitions therefore resumes from the last saved state (see Resume).
//
// # Failures
//
// Failures are classified by core.ErrorKind. Malformed JSON from the route,
// plan, judge and revise nodes is retried with a fixed delay; everything
// else aborts the run. A tool failure is terminal and never marks its task
// done. Every run is bounded by Config.MaxSteps.
//
// # Concurrency
//
// Runs on distinct threads execute in parallel. A second run on a thread
// that is already executing fails with ErrThreadBusy. Tools selected for
// the same task run concurrently; their results are appended in call order.
package engine
