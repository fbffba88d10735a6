// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `viewer:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort       port for the WebSocket hub, REST API and /metrics (default 8080)
//   - GRPCPort       port for the gRPC health service (default 50051); equal ports share a listener
//   - LogLevel       debug | info | warn | error (hot-reloadable)
//   - Auth.Mode      "apikey" or "none"
//   - Auth.KeyEnv    environment variable holding the expected API key
//   - Auth.Header    gRPC metadata/HTTP header name (default "x-api-key")
//   - Hub.*          upgrade path, buffers, frame and chat limits, timeouts, origins
//   - Hub.JoinAuth   "jwt" to require signed join tokens, "none" to trust userId
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, current, apply) reloads the file when it changes on disk
// and applies the Runtime settings (log level, chat limit); startup-only
// edits are logged as needing a restart.
package config
