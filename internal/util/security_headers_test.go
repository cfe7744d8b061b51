package util

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// cartHandler mimics an authenticated cart endpoint rejecting the caller.
func cartHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":     "Authentication required",
		"code":      "UNAUTHORIZED",
		"requestId": RequestIDFromRequest(r),
	})
}

func TestCartErrorResponsesAreNotCacheable(t *testing.T) {
	h := WithRequestID(WithSecurityHeaders(http.HandlerFunc(cartHandler)))

	req := httptest.NewRequest(http.MethodGet, "/cart/total", nil)
	req.Header.Set(RequestIDHeader, "cart-req-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q, per-user responses must not be cached", got)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "cart-req-7" {
		t.Fatalf("%s = %q", RequestIDHeader, got)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["requestId"] != "cart-req-7" {
		t.Fatalf("body requestId = %q", body["requestId"])
	}
	if got := rec.Header().Get("Content-Security-Policy"); got != "default-src 'none'; frame-ancestors 'none'" {
		t.Fatalf("Content-Security-Policy = %q", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
}

func TestHSTSOnlyForHTTPS(t *testing.T) {
	cases := []struct {
		name      string
		forwarded string
		tls       bool
		want      bool
	}{
		{name: "plain", want: false},
		{name: "forwarded http", forwarded: "http", want: false},
		{name: "forwarded https", forwarded: "https", want: true},
		{name: "forwarded upper case", forwarded: " HTTPS ", want: true},
		{name: "direct tls", tls: true, want: true},
	}
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-Proto", tc.forwarded)
			}
			if tc.tls {
				req.TLS = &tls.ConnectionState{}
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			got := rec.Header().Get("Strict-Transport-Security")
			if (got != "") != tc.want {
				t.Fatalf("Strict-Transport-Security = %q, want set=%v", got, tc.want)
			}
		})
	}
}
