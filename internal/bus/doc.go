// Package bus implements the outbound application-wide pub/sub channel.
//
// One inbound event, FormDataExtracted, is repackaged into an
// inProgressFormData envelope and published over Redis for the form
// components. All other inbound events stay local to the gateway's own
// subscribers.
package bus
