// Package logging provides structured logging with PII redaction.
//
// # Overview
//
// The logging package builds a log/slog logger with:
//   - JSON, text, and console formats
//   - Redaction of owner emails, bearer and GitHub tokens, API keys and
//     passwords in messages and attributes
//   - Context fields (run ID, actor, trace ID) attached to records logged
//     with a context
//   - Configurable log levels (debug, info, warn, error)
//
// Logs go to stderr by default so stdout carries only the gate summary.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:     "info",
//	    Format:    "json",
//	    RedactPII: true,
//	})
//
//	ctx = logging.WithRunID(ctx, runID)
//	logger.InfoContext(ctx, "evaluation complete",
//	    "owner", "jane.doe@example.com", // logged as j***@example.com
//	)
package logging
