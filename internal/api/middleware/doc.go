// Package middleware holds the gin middleware of the preview server:
// CORS, rate limiting, request ids and access logging.
package middleware
