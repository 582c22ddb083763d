package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// SetSecurityHeaders sets security headers on responses from the protocol
// endpoints. The CSP is maximally strict: these endpoints serve JSON and
// redirects, never markup that loads resources.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(issuer); err == nil && parsed.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Token and authorization responses must never be cached.
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}

// RequestIDHeader is the HTTP header request IDs travel in.
const RequestIDHeader = "X-Request-ID"

type requestIDContextKey struct{}

// requestIDPattern bounds upstream-supplied request IDs so a proxy header
// cannot smuggle control characters into logs.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// GenerateRequestID generates a cryptographically secure random request ID.
func GenerateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// GetRequestID retrieves the request ID from the context, or "".
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return requestID
	}
	return ""
}

// RequestIDMiddleware propagates a request ID from a trusted upstream proxy,
// or mints one, and exposes it on both the response and the request context.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || !requestIDPattern.MatchString(requestID) {
			requestID = GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

// GetClientIP extracts the real client IP from the request. X-Forwarded-For
// and X-Real-IP are honored only when trustProxy is set; trustedProxyCount is
// the number of proxies we control counted from the right of the XFF chain.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := extractIPFromXFF(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); ip != "" && net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// extractIPFromXFF picks the client entry out of an X-Forwarded-For chain
// of the form "client, proxy-n, ..., proxy-1".
func extractIPFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	proxyCount := trustedProxyCount
	if proxyCount == 0 {
		proxyCount = 1
	}
	clientIndex := len(ips) - proxyCount - 1
	if clientIndex < 0 {
		clientIndex = 0
	}

	clientIP := strings.TrimSpace(ips[clientIndex])
	if net.ParseIP(clientIP) != nil {
		return clientIP
	}
	return ""
}
