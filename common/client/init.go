// Package client owns the shared outbound HTTP clients for provider calls.
package client

import (
	"net"
	"net/http"
	"time"
)

// HTTPClient is the default outbound client for provider dispatch. It carries
// no overall timeout: streaming responses stay open for as long as the
// upstream keeps producing tokens, so only dial and header phases are bounded.
var HTTPClient *http.Client

// ImpatientHTTPClient is a short-timeout client for health checks and the
// classifier's compact LLM call.
var ImpatientHTTPClient *http.Client

// Init builds the shared HTTP clients. Call once at startup.
func Init() {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
	}

	HTTPClient = &http.Client{
		Transport: transport,
	}
	ImpatientHTTPClient = &http.Client{
		Timeout:   15 * time.Second,
		Transport: transport,
	}
}
