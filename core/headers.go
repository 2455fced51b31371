package core

import (
	"net/http"
	"strings"
)

// HeaderSource is anything that can be resolved into a normalized header map.
// HeaderMap covers keyed mappings and HTTPHeader covers net/http headers;
// internal components only ever see the normalized result.
type HeaderSource interface {
	Normalize() map[string]string
}

// HeaderMap is a plain keyed header mapping.
type HeaderMap map[string]string

func (h HeaderMap) Normalize() map[string]string {
	out := make(map[string]string, len(h))
	for key, value := range h {
		name := strings.ToLower(strings.TrimSpace(key))
		if name == "" {
			continue
		}
		out[name] = strings.TrimSpace(value)
	}
	return out
}

// HTTPHeader adapts net/http headers; repeated values are joined with ", ".
type HTTPHeader http.Header

func (h HTTPHeader) Normalize() map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		name := strings.ToLower(strings.TrimSpace(key))
		if name == "" {
			continue
		}
		trimmed := make([]string, 0, len(values))
		for _, value := range values {
			trimmed = append(trimmed, strings.TrimSpace(value))
		}
		out[name] = strings.Join(trimmed, ", ")
	}
	return out
}

// NormalizeHeaders resolves src into a lowercase-keyed header map. A nil
// source yields an empty, non-nil map.
func NormalizeHeaders(src HeaderSource) map[string]string {
	if src == nil {
		return map[string]string{}
	}
	normalized := src.Normalize()
	if normalized == nil {
		return map[string]string{}
	}
	return normalized
}

// HeaderValue looks up key in a header map, case-insensitively.
func HeaderValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	key = strings.TrimSpace(key)
	if value, ok := headers[strings.ToLower(key)]; ok {
		return strings.TrimSpace(value)
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func CloneHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		out[key] = value
	}
	return out
}
