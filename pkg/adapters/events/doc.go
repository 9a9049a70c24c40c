// Package events provides event bus implementations used to deliver job
// results to the connections that requested them.
//
// Implementations:
//   - redis: Redis Streams with a consumer group per instance
//   - memory: In-process fan-out
package events
