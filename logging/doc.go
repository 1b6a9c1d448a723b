// Package logging provides the small structured logging interface used across
// researchmesh together with slog and zerolog adapters.
//
//	logger := logging.New(&logging.Config{Level: logging.LogLevelDebug, Format: "text"})
//	logger = logging.With(logger, "thread_key", key)
//
// Components accept a Logger in their options and default to NoOpLogger.
// The helpers in this package give node transitions, model calls, tool calls
// and run summaries a consistent set of keys.
package logging
