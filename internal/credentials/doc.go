// Package credentials implements the client for the token-issuing endpoint
// that vends short-lived hub connection credentials.
package credentials
