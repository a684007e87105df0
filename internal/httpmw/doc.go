// Package httpmw provides HTTP middleware for the public-facing server.
//
// httpserver.NewHandler composes them outermost first: panic recovery,
// security headers, request ID, client IP extraction, the flood guard,
// OTEL tracing, metrics, structured logging, then the chi router. Per-route
// rate limits live in the ratelimit package and run inside the router.
//
// Query strings, user agents and request bodies never reach the logs, the
// contact form carries PII and the rest is attacker controlled.
package httpmw
