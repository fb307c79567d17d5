// Package connection implements the Connection Manager.
//
// The manager:
//   - Fetches fresh credentials for every (re)connection attempt
//   - Owns at most one live transport at a time
//   - Retries initial starts within a bounded budget
//   - Layers long-range exponential backoff above the transport's own
//     short-range redial schedule
//   - Routes inbound named events to registered subscribers
//
// Transient failures are retried silently; only the Initialize path
// surfaces errors to callers. Post-initialization failures are observable
// through state polling or the connection_status event.
package connection
