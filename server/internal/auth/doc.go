// Package auth provides authentication for fanstage-server.
//
// API keys guard the operator surfaces (REST API, /metrics, gRPC):
//
//	APIKeyInterceptor(mode, header, key)       gRPC unary interceptor
//	APIKeyStreamInterceptor(mode, header, key) gRPC stream interceptor
//	APIKeyMiddleware(mode, header, key)        HTTP middleware, 401 JSON on failure
//
// When mode != "apikey" or key == "", all calls pass through (useful for local
// development with auth disabled).
//
// JoinTokens issues and verifies HS256 JWTs that bind a user ID to a stream
// ID. When join auth is enabled the hub passes every join_stream through
// JoinTokens.Verify, so a client can only join as the user its token names.
package auth
