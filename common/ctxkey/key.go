// Package ctxkey enumerates gin context keys shared across the handler chain.
package ctxkey

const (
	KeyRequestBody             = "key_request_body"
	ClientRequestPayloadLogged = "client_request_payload_logged"
	RequestID                  = "cheaprelay_request_id"
)
