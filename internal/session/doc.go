// Package session watches for call-session availability, re-asking the
// connection manager to connect while credentials are not yet issued.
package session
