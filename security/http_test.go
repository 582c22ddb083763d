package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSecurityHeaders(rec, "https://auth.example.com")

	for header, want := range map[string]string{
		"X-Frame-Options":           "DENY",
		"X-Content-Type-Options":    "nosniff",
		"Cache-Control":             "no-store, no-cache, must-revalidate, private",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestSetSecurityHeadersNoHSTSOverHTTP(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSecurityHeaders(rec, "http://localhost:8080")

	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be set for an http issuer")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	tests := []struct {
		name     string
		inbound  string
		preserve bool
	}{
		{"generates when absent", "", false},
		{"preserves valid upstream ID", "req-abc-123", true},
		{"replaces invalid upstream ID", "bad\r\nid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header.Set(RequestIDHeader, tt.inbound)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if seen == "" {
				t.Fatal("expected a request ID in context")
			}
			if got := rec.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("response header %q does not match context ID %q", got, seen)
			}
			if tt.preserve && seen != tt.inbound {
				t.Errorf("expected upstream ID preserved, got %q", seen)
			}
			if !tt.preserve && seen == tt.inbound {
				t.Error("expected invalid upstream ID to be replaced")
			}
		})
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		trustProxy bool
		want       string
	}{
		{"direct connection", "192.0.2.10:1234", "", false, "192.0.2.10"},
		{"ignores XFF when untrusted", "192.0.2.10:1234", "1.2.3.4", false, "192.0.2.10"},
		{"honors XFF when trusted", "10.0.0.1:1234", "1.2.3.4", true, "1.2.3.4"},
		{"multi-hop XFF", "10.0.0.1:1234", "1.2.3.4, 10.0.0.2", true, "1.2.3.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := GetClientIP(req, tt.trustProxy, 1); got != tt.want {
				t.Errorf("GetClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
