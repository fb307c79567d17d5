// Package events defines the named events pushed by the transcription hub
// and the payload types the gateway decodes from them.
package events
