package security

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-request-network/webhooks"
)

var _ webhooks.SecretSource = (*SecretRing)(nil)

func TestSecretRing_ReturnsLiveSecretsNewestFirst(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	ring, err := NewSecretRing([]RingSecret{
		{ID: "v1", Version: 1, Value: []byte("whsec_old"), Window: KeyRotationWindow{NotAfter: now.Add(time.Hour)}},
		{ID: "v2", Version: 2, Value: []byte("whsec_new"), Window: KeyRotationWindow{NotBefore: now.Add(-time.Minute)}},
		{ID: "v3", Version: 3, Value: []byte("whsec_next"), Window: KeyRotationWindow{NotBefore: now.Add(time.Hour)}},
	})
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}

	secrets, err := ring.Secrets(context.Background(), now)
	if err != nil {
		t.Fatalf("secrets: %v", err)
	}
	if len(secrets) != 2 || string(secrets[0]) != "whsec_new" || string(secrets[1]) != "whsec_old" {
		t.Fatalf("unexpected live secrets %q", secrets)
	}

	later, _ := ring.Secrets(context.Background(), now.Add(2*time.Hour))
	if len(later) != 2 || string(later[0]) != "whsec_next" || string(later[1]) != "whsec_new" {
		t.Fatalf("unexpected rotated secrets %q", later)
	}
}

func TestSecretRing_RetireAndValidation(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	ring, err := NewSecretRing(nil)
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}
	if err := ring.Add(RingSecret{ID: "v1", Value: []byte("a")}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ring.Add(RingSecret{ID: "v1", Value: []byte("b")}); err == nil {
		t.Fatalf("expected duplicate id to be rejected")
	}
	if err := ring.Add(RingSecret{ID: "empty"}); err == nil {
		t.Fatalf("expected empty value to be rejected")
	}
	if err := ring.Add(RingSecret{ID: "inverted", Value: []byte("c"), Window: KeyRotationWindow{
		NotBefore: now, NotAfter: now.Add(-time.Second),
	}}); err == nil {
		t.Fatalf("expected inverted window to be rejected")
	}

	if err := ring.Retire("v1", now); err != nil {
		t.Fatalf("retire: %v", err)
	}
	if ids := ring.IDs(now.Add(time.Second)); len(ids) != 0 {
		t.Fatalf("expected retired secret to be excluded, got %v", ids)
	}
	if err := ring.Retire("missing", now); err == nil {
		t.Fatalf("expected unknown id to fail")
	}
}

func TestSecretRing_VerifiesAcrossRotation(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	ring, err := NewSecretRing([]RingSecret{
		{ID: "old", Version: 1, Value: []byte("whsec_old")},
		{ID: "new", Version: 2, Value: []byte("whsec_new")},
	})
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}
	body := []byte(`{"event":"payment.confirmed","requestId":"req_1"}`)
	secrets, err := ring.Secrets(context.Background(), now)
	if err != nil {
		t.Fatalf("secrets: %v", err)
	}
	result, err := webhooks.Verify(body, secrets, nil, webhooks.VerifyOptions{Signature: webhooks.Sign(body, []byte("whsec_old"))})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if string(result.MatchedSecret) != "whsec_old" || result.MatchedIndex != 1 {
		t.Fatalf("expected old secret at index 1, got %q/%d", result.MatchedSecret, result.MatchedIndex)
	}
}
