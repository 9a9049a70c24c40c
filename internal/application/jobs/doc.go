// Package jobs implements units of work and the scheduler that runs them.
//
// A Job wraps one requested operation and walks it through a fixed lifecycle:
//   - Validate the payload against the operation's contract
//   - Authorize the requester
//   - Execute the operation
//   - Report the outcome to the statistics sink, the log sink and, for
//     connected clients, the event bus
//
// The Queue holds every job that has not completed, bounds the number of
// active jobs, and dispatches the highest-priority job whose module can run
// jobs. Submission never blocks; results arrive through a Handle.
package jobs
