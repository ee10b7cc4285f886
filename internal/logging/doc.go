// Package logging provides structured logging with correlation ID support
// for the reconciliation engine.
//
// This package implements a centralized logging system using Logrus with
// structured logging, correlation ID tracking, component identification, and
// configurable output destinations (console, file, both, or disabled).
//
// Key features:
//   - Structured logging with JSON and text formatters
//   - Correlation ID tracking for request tracing
//   - Component-based logger instances
//   - Configurable log levels (debug, info, warn, error, fatal)
//   - File rotation with configurable size limits and backup retention
//   - Console and file output with independent enable/disable
//   - Global logger factory with consistent configuration, reconfigurable at
//     runtime by internal/config's ConfigWatcher without a process restart
//
// Usage patterns:
//   - Get logger factory: GetLoggerFactory()
//   - Configure globally: ConfigureFactory(config) / SetupLogging(config)
//   - Create component logger: factory.CreateLogger("component-name")
//   - Get global logger: GetLogger("component-name")
//   - Add correlation ID: WithCorrelationID(ctx)
//
// Field conventions:
//   - "component": Component name (e.g., "reconciler", "streamserver")
//   - "correlation_id": Request correlation ID for tracing
//   - "camera_uid": Camera identifier for device/profile/store log lines
//   - "action": Specific action being performed
package logging
