// Package httpmw holds the HTTP middleware used by both the public API
// server and the admin server: request IDs, client IP resolution,
// request-scoped logging, panic recovery, body limits, and trace
// annotation.
package httpmw
