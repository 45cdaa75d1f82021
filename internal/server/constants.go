// Package server exposes the pipeline over HTTP.
package server

import "time"

// Server configuration constants
const (
	// Per-connection websocket message rate limit
	RateLimitMessages = 20          // Max inbound messages per window
	RateLimitWindow   = time.Second // Sliding window duration

	// EventSendBuffer bounds each connection's outbound event queue; a
	// client that falls further behind loses events instead of stalling
	// the broadcast.
	EventSendBuffer = 64
)
