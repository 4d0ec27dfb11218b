package realtime

import "time"

const (
	// Max bytes per websocket frame read.
	maxFrameBytes = 64 << 10

	// Max bytes of a relayed draw payload.
	maxDrawPayloadBytes = 16 << 10
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limit (events per window). Strokes are chatty.
	rateLimitEvents = 240
	rateLimitWindow = 10 * time.Second
)
