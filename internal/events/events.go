package events

import "encoding/json"

// Known event names pushed by the transcription hub.
//
// The set is open: the hub may introduce new names, and consumers can
// subscribe to any string. The constants below cover the events the
// gateway itself acts on.
const (
	FormDataExtracted = "FormDataExtracted"
	TranscriptSegment = "TranscriptSegment"
	CallStatus        = "CallStatus"
	ConnectionStatus  = "connection_status"
	ErrorEvent        = "error"
)

// Handler is a subscriber callback for a named event.
type Handler func(payload json.RawMessage)

// Frame is the wire format for a server-pushed event.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// FormDataPayload is the payload of a FormDataExtracted event.
type FormDataPayload struct {
	CallID        string                     `json:"callId"`
	FormConfigID  string                     `json:"formConfigId,omitempty"`
	FieldsDetails map[string]json.RawMessage `json:"fieldsDetails"`
}

// TranscriptSegmentPayload is the payload of a TranscriptSegment event.
type TranscriptSegmentPayload struct {
	CallID    string `json:"callId"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	StartedAt int64  `json:"startedAt"` // Unix milliseconds
	EndedAt   int64  `json:"endedAt"`
}

// CallStatusPayload is the payload of a CallStatus event.
type CallStatusPayload struct {
	CallID string `json:"callId"`
	Status string `json:"status"` // "ringing", "active", "held", "ended"
}

// ConnectionStatusPayload is the payload of a hub-pushed connection_status
// frame reporting the hub's view of the stream.
type ConnectionStatusPayload struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}
