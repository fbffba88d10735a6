package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Streams     int    `json:"streams"`
}

// StreamResponse is one entry in GET /api/v1/streams and the payload for
// GET /api/v1/streams/{streamID}/viewers.
type StreamResponse struct {
	StreamID    string `json:"stream_id"`
	ViewerCount int    `json:"viewer_count"`
}

// StatsResponse is the payload for GET /api/v1/stats.
type StatsResponse struct {
	Connections int               `json:"connections"`
	Streams     int               `json:"streams"`
	Viewers     int               `json:"viewers"`
	Received    map[string]uint64 `json:"received"` // message type -> count
	Rejected    map[string]uint64 `json:"rejected"` // reason -> count
	Deliveries  DeliveryStats     `json:"deliveries"`
}

// DeliveryStats counts per-connection send outcomes.
type DeliveryStats struct {
	Sent    uint64 `json:"sent"`
	Skipped uint64 `json:"skipped"`
	Dropped uint64 `json:"dropped"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
