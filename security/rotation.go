package security

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// KeyRotationWindow gates when a secret is accepted for verification.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

// RingSecret is one versioned signing secret. Value may be sealed, in which
// case the ring opens it with its Opener.
type RingSecret struct {
	ID      string
	Version int
	Value   []byte
	Window  KeyRotationWindow
}

// Opener decrypts sealed secret values.
type Opener interface {
	Open(ctx context.Context, sealed []byte) ([]byte, error)
}

type RingOption func(*SecretRing)

func WithOpener(opener Opener) RingOption {
	return func(r *SecretRing) {
		r.opener = opener
	}
}

// SecretRing yields the secrets live at an instant, newest version first.
// It is safe for concurrent use.
type SecretRing struct {
	mu      sync.RWMutex
	secrets []RingSecret
	opener  Opener
}

func NewSecretRing(secrets []RingSecret, opts ...RingOption) (*SecretRing, error) {
	ring := &SecretRing{}
	for _, opt := range opts {
		if opt != nil {
			opt(ring)
		}
	}
	for _, secret := range secrets {
		if err := ring.Add(secret); err != nil {
			return nil, err
		}
	}
	return ring, nil
}

// Add registers a secret. IDs must be unique within the ring.
func (r *SecretRing) Add(secret RingSecret) error {
	secret.ID = strings.TrimSpace(secret.ID)
	if secret.ID == "" {
		return fmt.Errorf("security: secret id is required")
	}
	if len(secret.Value) == 0 {
		return fmt.Errorf("security: secret %q has no value", secret.ID)
	}
	if !secret.Window.NotBefore.IsZero() && !secret.Window.NotAfter.IsZero() &&
		secret.Window.NotAfter.Before(secret.Window.NotBefore) {
		return fmt.Errorf("security: secret %q window ends before it starts", secret.ID)
	}
	secret.Value = append([]byte(nil), secret.Value...)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.secrets {
		if existing.ID == secret.ID {
			return fmt.Errorf("security: duplicate secret id %q", secret.ID)
		}
	}
	r.secrets = append(r.secrets, secret)
	sort.SliceStable(r.secrets, func(i, j int) bool {
		return r.secrets[i].Version > r.secrets[j].Version
	})
	return nil
}

// Retire closes the window of secret id at the given instant.
func (r *SecretRing) Retire(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for index := range r.secrets {
		if r.secrets[index].ID == strings.TrimSpace(id) {
			r.secrets[index].Window.NotAfter = at.UTC()
			return nil
		}
	}
	return fmt.Errorf("security: secret %q not found", id)
}

// Secrets returns the values allowed at the given instant, opening sealed
// values when an Opener is configured.
func (r *SecretRing) Secrets(ctx context.Context, at time.Time) ([][]byte, error) {
	r.mu.RLock()
	live := make([]RingSecret, 0, len(r.secrets))
	for _, secret := range r.secrets {
		if secret.Window.Allows(at) {
			live = append(live, secret)
		}
	}
	opener := r.opener
	r.mu.RUnlock()

	out := make([][]byte, 0, len(live))
	for _, secret := range live {
		value := append([]byte(nil), secret.Value...)
		if opener != nil && IsSealed(value) {
			opened, err := opener.Open(ctx, value)
			if err != nil {
				return nil, fmt.Errorf("security: open secret %q: %w", secret.ID, err)
			}
			value = opened
		}
		out = append(out, value)
	}
	return out, nil
}

// IDs lists the ids allowed at the given instant, in verification order.
func (r *SecretRing) IDs(at time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.secrets))
	for _, secret := range r.secrets {
		if secret.Window.Allows(at) {
			ids = append(ids, secret.ID)
		}
	}
	return ids
}
