// Package observability provides the gateway's logging and event timeline.
//
// # Logging
//
// Logger wraps log/slog with level filtering, JSON or text output,
// request/conversation correlation pulled from context, and regex-based
// redaction of API keys and tokens before anything reaches a sink:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	logger.Info(ctx, "completion finished", "provider", "anthropic", "tokens", 1024)
//
// Components take a *Logger explicitly (nil-safe via NopLogger); there is
// no package-level global.
//
// # Event timeline
//
// EventRecorder captures run, tool, LLM, and pipeline-attempt events into
// an EventStore for debugging and replaying runs. BuildTimeline and
// FormatTimeline turn a run's events into a human-readable trace.
//
// Metrics and trace exporters are intentionally absent: sinks live with
// the host, which consumes the timeline and logs through its own stack.
package observability
