package core

import (
	"net/http"
	"testing"
)

func TestNormalizeHeaders_LowercasesMapKeys(t *testing.T) {
	headers := NormalizeHeaders(HeaderMap{
		"X-Request-Network-Signature": "  abc  ",
		"Content-Type":                "application/json",
		"  ":                          "dropped",
	})
	if got := headers["x-request-network-signature"]; got != "abc" {
		t.Fatalf("expected trimmed lowercase lookup, got %q", got)
	}
	if _, ok := headers[""]; ok {
		t.Fatalf("expected empty header names to be dropped")
	}
	if len(headers) != 2 {
		t.Fatalf("expected 2 headers, got %d", len(headers))
	}
}

func TestNormalizeHeaders_HTTPHeaderJoinsValues(t *testing.T) {
	raw := http.Header{}
	raw.Add("X-Trace", "a")
	raw.Add("X-Trace", "b")
	raw.Set("X-Request-Network-Signature", "sha256=ff")

	headers := NormalizeHeaders(HTTPHeader(raw))
	if headers["x-trace"] != "a, b" {
		t.Fatalf("expected joined values, got %q", headers["x-trace"])
	}
	if HeaderValue(headers, "X-Request-Network-Signature") != "sha256=ff" {
		t.Fatalf("expected case-insensitive lookup")
	}
}

func TestNormalizeHeaders_NilSource(t *testing.T) {
	headers := NormalizeHeaders(nil)
	if headers == nil || len(headers) != 0 {
		t.Fatalf("expected empty non-nil map")
	}
	if HeaderValue(nil, "x") != "" {
		t.Fatalf("expected empty value for nil headers")
	}
}

func TestHeaderValue_FallsBackToEqualFold(t *testing.T) {
	headers := map[string]string{"X-Mixed-Case": "v"}
	if HeaderValue(headers, "x-mixed-case") != "v" {
		t.Fatalf("expected equal-fold fallback for non-normalized maps")
	}
}
