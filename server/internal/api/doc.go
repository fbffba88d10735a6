// Package api implements the HTTP REST API for fanstage-server.
//
// New(hub) returns an http.Handler that serves:
//
//	GET /api/v1/health                      liveness plus connection and stream counts
//	GET /api/v1/streams                     every tracked stream, most watched first
//	GET /api/v1/streams/{streamID}/viewers  live viewer count; 0 for untracked streams
//	GET /api/v1/stats                       hub message and delivery counters
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for non-GET methods and 404 for unknown paths, both as JSON
//   - Read live state from the hub; nothing is cached
//
// Routing uses chi. Optional middleware (API-key auth) is applied to every
// route. JSON types are defined in types.go.
package api
