// Package ws implements the live-stream presence and chat fan-out hub for
// fanstage-server.
//
// Hub tracks every accepted WebSocket connection, which stream each one is
// watching, and broadcasts chat, like and viewer-count events to the
// audience of a stream.
//
// New(opts) creates a Hub.
// Hub.Run(ctx) processes lifecycle events and messages one at a time. It
// blocks until ctx is cancelled, then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket and feeds its frames
// to the hub until it closes. The server mounts it at /ws by default.
//
// Connect, Receive and Disconnect are the transport-facing operations;
// ViewerCount, ActiveStreams and Stats are reads for the REST API and
// metrics. All of them are safe for concurrent use.
//
// Wire format is defined in pkg/protocol. Sends are fire-and-forget: a
// transport that is not open is skipped, a full send buffer drops the
// event for that connection only.
package ws
