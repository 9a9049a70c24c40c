// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Job submission
//   - Queue, job and statistics introspection (admin role)
//   - Module listing and manual status changes (admin role)
//   - Health checks
//   - Prometheus metrics
//
// Every JSON response uses the envelope {"status", "message", "data"}.
package http
