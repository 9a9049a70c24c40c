// Package system provides the built-in utils module. Its operations expose
// liveness and queue introspection through the regular job pipeline, so they
// are scheduled, authorized and counted like any other job.
package system
