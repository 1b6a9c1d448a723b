// Package runner exposes engine runs as event streams.
//
// A Runner starts one goroutine executing the engine and one goroutine
// multiplexing what the engine produces (answer tokens, progress messages
// and state updates) into a single ordered channel of core.Event values:
//
//	msg       answer tokens from the streaming nodes
//	custom    progress messages and the trailing elapsed time notice
//	final_msg the complete answer (terminal)
//	error     a generic failure message (terminal)
//
// Every stream ends with exactly one terminal event. Failure details are
// never sent to the caller; they are logged with the thread key and run ID.
// WriteNDJSON renders a stream as newline-delimited JSON.
package runner
