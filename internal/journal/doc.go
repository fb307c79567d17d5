// Package journal implements the append-only audit journal of inbound
// call events.
//
// Entries are batched in memory and flushed to the call_events table on
// batch size or flush interval, whichever comes first. The record path
// never blocks event dispatch.
package journal
