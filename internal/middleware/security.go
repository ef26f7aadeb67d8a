// Package middleware provides HTTP middleware for the TrueNamePath server.
package middleware

import "net/http"

// securityHeaders are applied to every response. The CSP allows the
// dashboard's inline assets and its websocket event feed; everything the
// service serves is same-origin and never framed.
var securityHeaders = map[string]string{
	"X-Frame-Options":        "DENY",
	"X-Content-Type-Options": "nosniff",
	"X-XSS-Protection":       "1; mode=block",
	"Referrer-Policy":        "strict-origin-when-cross-origin",
	"Content-Security-Policy": "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: https:; " +
		"connect-src 'self' ws: wss:; " +
		"frame-ancestors 'none'",
	"Permissions-Policy": "geolocation=(), microphone=(), camera=()",
}

// SecurityHeaders adds browser hardening headers to all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range securityHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}
