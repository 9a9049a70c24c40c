// Package storage provides archives for completed job records.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL
//   - memory: In-memory with lazy expiry, for single instances and tests
package storage
