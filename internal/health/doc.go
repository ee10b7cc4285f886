// Package health provides health monitoring and HTTP health endpoints for
// the reconciliation engine.
//
// This package implements health monitoring with HTTP endpoints for
// liveness and readiness probes, component status tracking, and uptime
// metrics, used for container-orchestration health checks on top of a
// process that otherwise exposes no network surface of its own.
//
// The HTTP server is a thin delegation layer: all logic lives in
// HealthAPI/HealthMonitor, not in the handlers.
//
// Key Components:
//   - HealthAPI: Interface for health monitoring components
//   - HealthMonitor: Core health monitoring logic implementation
//   - HTTPHealthServer: HTTP endpoint server with thin delegation
//   - ComponentStatus: Individual component health tracking
//   - Health Responses: Structured health response types
//
// Health Endpoints:
//   - /health: Basic health status (healthy/unhealthy/degraded)
//   - /health/detailed: Comprehensive health with components and metrics
//   - /health/ready: Readiness probe for Kubernetes
//   - /health/live: Liveness probe for Kubernetes
//
// These are the default paths; each one is configurable in the http_health
// configuration section.
//
// Health Status Semantics:
//   - healthy: All components operational, system ready for requests
//   - degraded: Some components failing but core functionality available
//   - unhealthy: Critical components failing, system not ready
//
// Component Integration:
//   - Update component status with UpdateComponentStatus()
//   - Automatic timestamp tracking for all status updates
package health
