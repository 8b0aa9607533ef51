/*
Package log provides structured logging for stratumdb using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

stratumdb's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("scheduler")               │          │
	│  │  - WithQueryID("q-abc123")                  │          │
	│  │  - WithWorkerID("w-xyz789")                 │          │
	│  │  - WithStageID(4)                           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "scheduler",                │          │
	│  │    "time": "2026-07-31T10:30:00Z",         │          │
	│  │    "message": "stage dispatched"            │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-07-31T10:30:00Z INF stage dispatched component=scheduler │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all stratumdb packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithQueryID: Add query ID context
  - WithWorkerID: Add worker ID context
  - WithStageID: Add stage ID context

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "evaluating ready set: 2 stages, 1 completed"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "query terminated: state=completed"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "worker marked unhealthy by health sweep"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "stage 2 failed on worker w-3: transport error"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "failed to bind RPC listener: %v"

# Usage

Initializing the Logger:

	import "github.com/cuemby/stratumdb/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/stratumdb.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("coordinator initialized successfully")
	log.Debug("checking worker status")
	log.Warn("high outstanding load on worker w-1")
	log.Error("failed to dial worker endpoint")
	log.Fatal("cannot start without a registry") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("query_id", "q-123").
		Int("stage_count", 3).
		Msg("query accepted")

	log.Logger.Error().
		Err(err).
		Str("worker_id", "w-abc").
		Msg("heartbeat handler failed")

Component Loggers:

	// Create component-specific logger
	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Msg("starting wave")
	schedLog.Debug().Str("query_id", "q-123").Msg("dispatching ready stages")

	// Multiple context fields
	stageLog := log.WithComponent("scheduler").
		With().Str("query_id", "q-123").
		Int("stage_id", 2).Logger()
	stageLog.Info().Msg("stage dispatched")
	stageLog.Error().Err(err).Msg("stage failed")

Context Logger Helpers:

	// Query-specific logs
	qLog := log.WithQueryID("q-123")
	qLog.Info().Msg("query terminated")

	// Worker-specific logs
	wLog := log.WithWorkerID("w-abc")
	wLog.Info().Msg("worker registered")

	// Stage-specific logs
	sLog := log.WithStageID(2)
	sLog.Info().Msg("stage completed")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/cuemby/stratumdb/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("stratumdb coordinator starting")

		// Component-specific logging
		schedLog := log.WithComponent("scheduler")
		schedLog.Info().
			Str("query_id", "q-1").
			Int("stage_count", 5).
			Msg("driving plan to completion")

		// Error logging
		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "rpcclient").
			Msg("failed to dial worker")

		log.Info("stratumdb coordinator stopped")
	}

# Integration Points

This package integrates with:

  - pkg/registry: Logs worker registration and health-sweep transitions
  - pkg/scheduler: Logs wave dispatch and query terminal states
  - pkg/rpcclient: Logs transport and circuit-breaker events
  - pkg/aggregator: Logs merge and final-aggregation errors
  - pkg/workersim: Logs the simulated worker's heartbeat and stage loops

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"registry","time":"2026-07-31T10:30:00Z","message":"worker registered"}
	{"level":"info","component":"scheduler","query_id":"q-123","time":"2026-07-31T10:30:01Z","message":"stage dispatched"}
	{"level":"error","component":"rpcclient","worker_id":"w-abc","error":"transport error","time":"2026-07-31T10:30:02Z","message":"execute stage failed"}

Console Format (Development):

	2026-07-31T10:30:00Z INF worker registered component=registry
	2026-07-31T10:30:01Z INF stage dispatched component=scheduler query_id=q-123
	2026-07-31T10:30:02Z ERR execute stage failed component=rpcclient worker_id=w-abc error="transport error"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Provides stack trace information
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field
  - Int field: +30ns per field

Throughput:
  - JSON: ~2M log lines per second
  - Console: ~1M log lines per second
  - Bottleneck: I/O write speed

Log Level Impact:
  - Debug: High volume, use in development only
  - Info: Moderate volume, suitable for production
  - Warn/Error: Low volume, minimal impact
  - Recommendation: Info level in production

# Troubleshooting

No Log Output:
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)

Missing Context Fields:
  - Cause: Using global Logger instead of a context logger
  - Solution: Use WithComponent/WithQueryID/WithWorkerID/WithStageID

# Security

Log Content:
  - Never log stage payloads or resultLocation contents verbatim;
    they are opaque planner/worker data and may be large or sensitive.
  - Use structured fields (.Str, .Int) for user-supplied identifiers
    instead of string concatenation, to avoid log injection.

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
*/
package log
