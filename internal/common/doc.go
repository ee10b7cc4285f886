// Package common provides shared interfaces and utilities used across the
// reconciliation engine's components.
//
// This package contains shared interfaces and helper functions used across
// multiple components to ensure consistent behavior and graceful shutdown
// patterns.
//
// Key components:
//   - Stoppable: interface for services requiring graceful shutdown
//   - StopWithTimeout: helper function for timeout-based shutdown
//
// Usage pattern:
//   - Implement Stoppable for any service with a background goroutine
//     (the Event Ingress and the Reconciler's control loop both do)
//   - Use StopWithTimeout() for consistent timeout-based shutdown
//   - Pass a context for cancellation and timeout enforcement
package common
