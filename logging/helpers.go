package logging

import "time"

// LogToolCall records execution details for a tool invocation.
func LogToolCall(l Logger, tool string, dur time.Duration, err error) {
	if err != nil {
		l.Error("Tool execution failed", "tool", tool, "duration", dur, "error", err)
		return
	}
	l.Info("Tool execution completed", "tool", tool, "duration", dur)
}

// LogModelCall records model call latency and outcome.
func LogModelCall(l Logger, model, prompt string, dur time.Duration, err error) {
	if err != nil {
		l.Error("Model call failed", "model", model, "prompt", prompt, "duration", dur, "error", err)
		return
	}
	l.Debug("Model call completed", "model", model, "prompt", prompt, "duration", dur)
}

// LogTransition records a single state machine step.
func LogTransition(l Logger, from, to string, step int) {
	l.Debug("Engine transition", "node", from, "next", to, "step", step)
}

// LogRun records aggregate run metrics.
func LogRun(l Logger, threadKey, runID string, steps int, dur time.Duration, err error) {
	if err != nil {
		l.Error("Run failed", "thread_key", threadKey, "run_id", runID, "step_count", steps, "duration", dur, "error", err)
		return
	}
	l.Info("Run completed", "thread_key", threadKey, "run_id", runID, "step_count", steps, "duration", dur)
}
