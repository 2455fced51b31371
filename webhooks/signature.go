package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-request-network/core"
)

const (
	// SignatureAlgorithm is the only accepted `algo=` prefix.
	SignatureAlgorithm = "sha256"

	DefaultSignatureHeader = core.DefaultSignatureHeader
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
}

type VerifyOptions struct {
	// Signature overrides the header lookup when non-empty.
	Signature string
	// Header names the signature header. Defaults to DefaultSignatureHeader.
	Header string
	// Timestamp is an explicit numeric timestamp. Zero means none.
	Timestamp float64
	// TimestampHeader names a header holding a numeric or date timestamp.
	TimestampHeader string
	// Tolerance enables the timestamp window check when positive.
	Tolerance time.Duration
	Now       func() time.Time
}

// VerificationResult describes a successful verification. It is a fresh value
// per call; MatchedSecret is a copy of the candidate that matched.
type VerificationResult struct {
	Signature     string
	MatchedSecret []byte
	MatchedIndex  int
	Timestamp     *time.Time
	Headers       map[string]string
}

// Sign returns the lowercase hex HMAC-SHA256 digest of payload under secret.
func Sign(payload []byte, secret []byte) string {
	return hex.EncodeToString(digest(payload, secret))
}

// SignHeader returns Sign prefixed with the algorithm token.
func SignHeader(payload []byte, secret []byte) string {
	return SignatureAlgorithm + "=" + Sign(payload, secret)
}

// Verify checks the HMAC signature of raw against each secret in order and
// returns on the first match. Every failure is a *SignatureError.
func Verify(raw []byte, secrets [][]byte, headers core.HeaderSource, opts VerifyOptions) (VerificationResult, error) {
	normalized := core.NormalizeHeaders(headers)
	headerName := strings.ToLower(strings.TrimSpace(opts.Header))
	if headerName == "" {
		headerName = DefaultSignatureHeader
	}

	rawSignature := strings.TrimSpace(opts.Signature)
	if rawSignature == "" {
		rawSignature = core.HeaderValue(normalized, headerName)
	}
	if rawSignature == "" {
		return VerificationResult{}, &SignatureError{Reason: ReasonMissingSignature, Header: headerName}
	}

	signature, ok := normalizeSignature(rawSignature)
	if !ok {
		return VerificationResult{}, &SignatureError{
			Reason:       ReasonInvalidFormat,
			Header:       headerName,
			RawSignature: rawSignature,
		}
	}
	sigErr := func(reason SignatureReason, timestamp *time.Time) *SignatureError {
		return &SignatureError{
			Reason:       reason,
			Header:       headerName,
			Signature:    signature,
			RawSignature: rawSignature,
			Timestamp:    timestamp,
		}
	}

	timestamp, ok := resolveTimestamp(normalized, opts)
	if !ok {
		if opts.Tolerance > 0 {
			return VerificationResult{}, sigErr(ReasonInvalidFormat, nil)
		}
		timestamp = nil
	}
	if timestamp != nil && opts.Tolerance > 0 {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		skew := now().Sub(*timestamp)
		if skew < 0 {
			skew = -skew
		}
		if skew > opts.Tolerance {
			return VerificationResult{}, sigErr(ReasonToleranceExceeded, timestamp)
		}
	}

	if len(secrets) == 0 {
		return VerificationResult{}, sigErr(ReasonInvalidSignature, timestamp)
	}

	provided, err := hex.DecodeString(signature)
	if err != nil || len(provided) != sha256.Size {
		return VerificationResult{}, sigErr(ReasonInvalidFormat, timestamp)
	}

	for index, secret := range secrets {
		expected := digest(raw, secret)
		if subtle.ConstantTimeCompare(provided, expected) == 1 {
			return VerificationResult{
				Signature:     signature,
				MatchedSecret: append([]byte(nil), secret...),
				MatchedIndex:  index,
				Timestamp:     timestamp,
				Headers:       normalized,
			}, nil
		}
	}
	return VerificationResult{}, sigErr(ReasonInvalidSignature, timestamp)
}

func digest(payload []byte, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

// normalizeSignature strips an optional algorithm prefix and returns the
// lowercase hex digest.
func normalizeSignature(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if algo, rest, found := strings.Cut(value, "="); found {
		if !strings.EqualFold(strings.TrimSpace(algo), SignatureAlgorithm) {
			return "", false
		}
		value = strings.TrimSpace(rest)
	}
	if value == "" || len(value)%2 != 0 {
		return "", false
	}
	for _, r := range value {
		if !isHex(r) {
			return "", false
		}
	}
	return strings.ToLower(value), true
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// resolveTimestamp returns (nil, true) when no timestamp was requested and
// (nil, false) when the configured header could not be parsed.
func resolveTimestamp(headers map[string]string, opts VerifyOptions) (*time.Time, bool) {
	if opts.Timestamp != 0 {
		ts := timestampFromNumber(opts.Timestamp)
		return &ts, true
	}
	headerName := strings.TrimSpace(opts.TimestampHeader)
	if headerName == "" {
		return nil, true
	}
	value := core.HeaderValue(headers, headerName)
	if value == "" {
		return nil, true
	}
	ts, ok := ParseTimestamp(value)
	if !ok {
		return nil, false
	}
	return &ts, true
}

// ParseTimestamp reads a decimal seconds/milliseconds value or a date string.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if number, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(number) || math.IsInf(number, 0) {
			return time.Time{}, false
		}
		return timestampFromNumber(number), true
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

// timestampFromNumber applies the unit heuristic: values above 1e9 are used
// as milliseconds after truncation, smaller values are seconds.
func timestampFromNumber(value float64) time.Time {
	var ms int64
	if value > 1e9 {
		ms = int64(math.Trunc(value))
	} else {
		ms = int64(math.Trunc(value * 1000))
	}
	return time.UnixMilli(ms).UTC()
}
