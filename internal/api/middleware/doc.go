// Package middleware holds the gin middleware used by the status server:
// CORS through gin-contrib/cors and per-IP rate limiting through
// golang.org/x/time/rate.
package middleware
