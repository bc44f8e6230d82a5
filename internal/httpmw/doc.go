// Package httpmw provides HTTP middleware for the public-facing server.
//
// Middleware is composed in a specific order in httpserver.NewHandler:
// security headers, panic recovery, request ID, client IP extraction,
// rate limiting, OTEL tracing, metrics, request guarding, structured
// logging, and chi router.
//
// Each middleware is an independent function that can be tested,
// reordered, or removed individually. User-supplied data beyond method
// and path is intentionally excluded from logs to prevent PII leaks and
// log injection.
package httpmw
