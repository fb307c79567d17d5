// Package transport implements the streaming WebSocket client for the
// transcription hub.
//
// The client:
//   - Dials with a freshly supplied bearer token on every (re)connect
//   - Dispatches named event frames to registered handlers in order
//   - Redials on failure over a fixed short-range delay schedule
//   - Fires a close hook once the schedule is exhausted
//
// Long-range reconnection (exponential backoff, attempt ceiling) lives in
// the connection package, layered above this client.
package transport
