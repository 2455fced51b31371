package webhooks

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-request-network/core"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSign_KnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	got := Sign([]byte("what do ya want for nothing?"), []byte("Jefe"))
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if header := SignHeader([]byte("what do ya want for nothing?"), []byte("Jefe")); header != "sha256="+want {
		t.Fatalf("unexpected header value %q", header)
	}
}

func TestVerify_AcceptsHeaderAndPrefixedForms(t *testing.T) {
	body := []byte(`{"event":"payment.confirmed","requestId":"req_1"}`)
	secret := []byte("whsec_test")
	digest := Sign(body, secret)

	cases := map[string]string{
		"plain":          digest,
		"upper":          strings.ToUpper(digest),
		"prefixed":       "sha256=" + digest,
		"prefixed upper": "SHA256=" + strings.ToUpper(digest),
	}
	for name, value := range cases {
		result, err := Verify(body, [][]byte{secret}, core.HeaderMap{"X-Request-Network-Signature": value}, VerifyOptions{})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if result.Signature != digest {
			t.Fatalf("%s: expected normalized signature %s, got %s", name, digest, result.Signature)
		}
		if string(result.MatchedSecret) != "whsec_test" || result.MatchedIndex != 0 {
			t.Fatalf("%s: unexpected matched secret %q/%d", name, result.MatchedSecret, result.MatchedIndex)
		}
		if result.Headers["x-request-network-signature"] == "" {
			t.Fatalf("%s: expected normalized headers on result", name)
		}
	}
}

func TestVerify_ExplicitSignatureAndCustomHeader(t *testing.T) {
	body := []byte(`{}`)
	secret := []byte("s")
	if _, err := Verify(body, [][]byte{secret}, nil, VerifyOptions{Signature: Sign(body, secret)}); err != nil {
		t.Fatalf("explicit signature: %v", err)
	}
	headers := core.HeaderMap{"X-Custom-Sig": Sign(body, secret)}
	if _, err := Verify(body, [][]byte{secret}, headers, VerifyOptions{Header: "x-custom-sig"}); err != nil {
		t.Fatalf("custom header: %v", err)
	}
	_, err := Verify(body, [][]byte{secret}, headers, VerifyOptions{})
	assertReason(t, err, ReasonMissingSignature)
}

func TestVerify_Rotation(t *testing.T) {
	body := []byte(`{"event":"payment.failed","requestId":"req_2"}`)
	oldSecret := []byte("whsec_old")
	newSecret := []byte("whsec_new")

	result, err := Verify(body, [][]byte{oldSecret, newSecret}, nil, VerifyOptions{Signature: Sign(body, oldSecret)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result.MatchedSecret) != "whsec_old" || result.MatchedIndex != 0 {
		t.Fatalf("expected old secret to match, got %q at %d", result.MatchedSecret, result.MatchedIndex)
	}

	result, err = Verify(body, [][]byte{oldSecret, newSecret}, nil, VerifyOptions{Signature: Sign(body, newSecret)})
	if err != nil || result.MatchedIndex != 1 {
		t.Fatalf("expected new secret at index 1, got %d (%v)", result.MatchedIndex, err)
	}

	_, err = Verify(body, [][]byte{oldSecret, newSecret}, nil, VerifyOptions{Signature: Sign(body, []byte("whsec_other"))})
	assertReason(t, err, ReasonInvalidSignature)
}

func TestVerify_NoSecrets(t *testing.T) {
	body := []byte(`{}`)
	_, err := Verify(body, nil, nil, VerifyOptions{Signature: Sign(body, []byte("x"))})
	assertReason(t, err, ReasonInvalidSignature)
}

func TestVerify_FormatRejection(t *testing.T) {
	body := []byte(`{"event":"payment.confirmed"}`)
	secret := []byte("whsec_test")
	digest := Sign(body, secret)

	cases := map[string]string{
		"non hex":        strings.Repeat("zz", 32),
		"odd length":     digest[:63],
		"short digest":   digest[:32],
		"long digest":    digest + "00",
		"unsupported":    "sha1=" + digest,
		"empty prefixed": "sha256=",
		"bad separator":  "sha256:" + digest,
	}
	for name, value := range cases {
		_, err := Verify(body, [][]byte{secret}, nil, VerifyOptions{Signature: value})
		if err == nil {
			t.Fatalf("%s: expected failure", name)
		}
		sigErr, ok := AsSignatureError(err)
		if !ok {
			t.Fatalf("%s: expected signature error, got %T", name, err)
		}
		if sigErr.Reason != ReasonInvalidFormat {
			t.Fatalf("%s: expected invalid_format, got %s", name, sigErr.Reason)
		}
	}

	_, err := Verify(body, [][]byte{secret}, core.HeaderMap{"x-request-network-signature": "   "}, VerifyOptions{})
	assertReason(t, err, ReasonMissingSignature)
}

func TestVerify_ToleranceWindow(t *testing.T) {
	body := []byte(`{"event":"payment.confirmed"}`)
	secret := []byte("whsec_test")
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	stale := float64(now.Add(-10 * time.Second).UnixMilli())

	opts := VerifyOptions{
		Signature: Sign(body, secret),
		Timestamp: stale,
		Tolerance: 5 * time.Second,
		Now:       func() time.Time { return now },
	}
	_, err := Verify(body, [][]byte{secret}, nil, opts)
	assertReason(t, err, ReasonToleranceExceeded)
	sigErr, _ := AsSignatureError(err)
	if sigErr.Timestamp == nil || !sigErr.Timestamp.Equal(now.Add(-10*time.Second)) {
		t.Fatalf("expected timestamp on error, got %v", sigErr.Timestamp)
	}

	opts.Tolerance = 0
	result, err := Verify(body, [][]byte{secret}, nil, opts)
	if err != nil {
		t.Fatalf("expected success without tolerance: %v", err)
	}
	if result.Timestamp == nil {
		t.Fatalf("expected parsed timestamp on result")
	}
}

func TestVerify_TimestampHeader(t *testing.T) {
	body := []byte(`{}`)
	secret := []byte("whsec_test")
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	base := VerifyOptions{
		Signature:       Sign(body, secret),
		TimestampHeader: "x-request-network-timestamp",
		Tolerance:       5 * time.Second,
		Now:             func() time.Time { return now },
	}

	fresh := map[string]string{
		"milliseconds": strconv.FormatInt(now.Add(-time.Second).UnixMilli(), 10),
		"rfc1123":      now.Add(-2 * time.Second).Format(time.RFC1123),
		"rfc3339":      now.Add(2 * time.Second).Format(time.RFC3339),
	}
	for name, value := range fresh {
		headers := core.HeaderMap{"X-Request-Network-Timestamp": value}
		if _, err := Verify(body, [][]byte{secret}, headers, base); err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
	}

	headers := core.HeaderMap{"X-Request-Network-Timestamp": "not-a-time"}
	_, err := Verify(body, [][]byte{secret}, headers, base)
	assertReason(t, err, ReasonInvalidFormat)

	headers = core.HeaderMap{"X-Request-Network-Timestamp": now.Add(-time.Hour).Format(time.RFC1123)}
	_, err = Verify(body, [][]byte{secret}, headers, base)
	assertReason(t, err, ReasonToleranceExceeded)
}

func TestVerify_UnparseableTimestampIgnoredWithoutTolerance(t *testing.T) {
	body := []byte(`{}`)
	secret := []byte("whsec_test")
	headers := core.HeaderMap{
		"x-request-network-signature": Sign(body, secret),
		"X-Request-Network-Timestamp": "not-a-time",
	}

	result, err := Verify(body, [][]byte{secret}, headers, VerifyOptions{TimestampHeader: "x-request-network-timestamp"})
	if err != nil {
		t.Fatalf("expected valid signature without tolerance, got %v", err)
	}
	if result.Timestamp != nil {
		t.Fatalf("expected no timestamp, got %v", result.Timestamp)
	}
}

func TestParseTimestamp_UnitHeuristic(t *testing.T) {
	ts, ok := ParseTimestamp("1000")
	if !ok || ts.UnixMilli() != 1_000_000 {
		t.Fatalf("expected seconds to scale to ms, got %d", ts.UnixMilli())
	}
	ts, ok = ParseTimestamp("1.5")
	if !ok || ts.UnixMilli() != 1500 {
		t.Fatalf("expected fractional seconds to scale, got %d", ts.UnixMilli())
	}
	ts, ok = ParseTimestamp("1700000000000.9")
	if !ok || ts.UnixMilli() != 1_700_000_000_000 {
		t.Fatalf("expected large value truncated as ms, got %d", ts.UnixMilli())
	}
	ts, ok = ParseTimestamp("1000000001")
	if !ok || ts.UnixMilli() != 1_000_000_001 {
		t.Fatalf("expected value above 1e9 used directly, got %d", ts.UnixMilli())
	}
	if _, ok := ParseTimestamp(""); ok {
		t.Fatalf("expected empty timestamp to be rejected")
	}
}

func TestSignatureError_ServiceEnvelopeOmitsSecret(t *testing.T) {
	body := []byte(`{}`)
	_, err := Verify(body, [][]byte{[]byte("top-secret")}, nil, VerifyOptions{Signature: Sign(body, []byte("other"))})
	sigErr, ok := AsSignatureError(err)
	if !ok {
		t.Fatalf("expected signature error, got %v", err)
	}
	rich := sigErr.ToServiceError()
	if rich.Code != 401 || rich.TextCode != core.ErrorInvalidSignature {
		t.Fatalf("unexpected envelope %d/%s", rich.Code, rich.TextCode)
	}
	if rich.Metadata["reason"] != "invalid_signature" {
		t.Fatalf("expected reason metadata, got %v", rich.Metadata["reason"])
	}
	if strings.Contains(err.Error(), "top-secret") || strings.Contains(rich.Error(), "top-secret") {
		t.Fatalf("secret leaked into error message")
	}
	if !IsSignatureError(rich) {
		t.Fatalf("expected envelope to unwrap to the signature error")
	}
}

func TestVerify_RoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("sign then verify reports the signing secret", prop.ForAll(
		func(payload []byte, secrets []string, pick int) bool {
			candidates := make([][]byte, 0, len(secrets)+1)
			for _, secret := range secrets {
				candidates = append(candidates, []byte("k:"+secret))
			}
			if len(candidates) == 0 {
				candidates = append(candidates, []byte("k:"))
			}
			index := pick % len(candidates)
			signature := Sign(payload, candidates[index])
			result, err := Verify(payload, candidates, nil, VerifyOptions{Signature: signature})
			if err != nil {
				return false
			}
			return string(result.MatchedSecret) == string(candidates[result.MatchedIndex]) &&
				Sign(payload, result.MatchedSecret) == signature
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOfN(3, gen.AlphaString()),
		gen.IntRange(0, 16),
	))

	properties.TestingRun(t)
}

func TestVerify_TamperProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	secret := []byte("whsec_property")

	properties.Property("flipping a payload byte fails with invalid_signature", prop.ForAll(
		func(payload []byte, position int, mask uint8) bool {
			if len(payload) == 0 {
				payload = []byte{0}
			}
			if mask == 0 {
				mask = 1
			}
			signature := Sign(payload, secret)
			tampered := append([]byte(nil), payload...)
			tampered[position%len(tampered)] ^= mask
			_, err := Verify(tampered, [][]byte{secret}, nil, VerifyOptions{Signature: signature})
			sigErr, ok := AsSignatureError(err)
			return ok && sigErr.Reason == ReasonInvalidSignature
		},
		gen.SliceOf(gen.UInt8()),
		gen.IntRange(0, 1024),
		gen.UInt8(),
	))

	properties.Property("flipping a signature nibble fails with invalid_signature", prop.ForAll(
		func(payload []byte, position int) bool {
			signature := []byte(Sign(payload, secret))
			index := position % len(signature)
			if signature[index] == '0' {
				signature[index] = '1'
			} else {
				signature[index] = '0'
			}
			_, err := Verify(payload, [][]byte{secret}, nil, VerifyOptions{Signature: string(signature)})
			sigErr, ok := AsSignatureError(err)
			return ok && sigErr.Reason == ReasonInvalidSignature
		},
		gen.SliceOf(gen.UInt8()),
		gen.IntRange(0, 63),
	))

	properties.TestingRun(t)
}

func assertReason(t *testing.T, err error, reason SignatureReason) {
	t.Helper()
	sigErr, ok := AsSignatureError(err)
	if !ok {
		t.Fatalf("expected signature error with reason %s, got %v", reason, err)
	}
	if sigErr.Reason != reason {
		t.Fatalf("expected reason %s, got %s", reason, sigErr.Reason)
	}
}
