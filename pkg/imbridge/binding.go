package imbridge

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BindingTTL is the lifetime of a one-time binding key.
const BindingTTL = 10 * time.Minute

// Binding is an issued, not-yet-consumed authorization for an IM adapter
// to call message_send as the given platform identity.
type Binding struct {
	Key       string
	GroupID   string
	Platform  string
	Channel   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// expired reports whether b's TTL has elapsed as of now.
func (b Binding) expired(now time.Time) bool {
	return now.After(b.ExpiresAt)
}

// Registry issues and consumes binding keys. One Registry serves the whole
// daemon; keys are process-local and never persisted (a restart simply
// invalidates any binding an adapter has not yet redeemed, which is
// harmless: the adapter just asks the operator to re-bind).
type Registry struct {
	mu       sync.Mutex
	bindings map[string]Binding
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

// Issue mints a new binding key for groupID/platform/channel, valid for
// BindingTTL. The key is a random UUID followed by 16 further random bytes
// in hex (see randomKey).
func (r *Registry) Issue(groupID, platform, channel string) (Binding, error) {
	key, err := randomKey()
	if err != nil {
		return Binding{}, fmt.Errorf("generate binding key: %w", err)
	}
	now := time.Now()
	b := Binding{
		Key:       key,
		GroupID:   groupID,
		Platform:  platform,
		Channel:   channel,
		IssuedAt:  now,
		ExpiresAt: now.Add(BindingTTL),
	}
	r.mu.Lock()
	r.bindings[key] = b
	r.mu.Unlock()
	return b, nil
}

// Redeem consumes a binding key exactly once: a second Redeem of the same
// key, or one past its TTL, fails. This is the adapter's proof that a
// human operator authorized the binding, not an unsolicited inbound call.
func (r *Registry) Redeem(key string) (Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[key]
	if !ok {
		return Binding{}, fmt.Errorf("unknown or already-consumed binding key")
	}
	delete(r.bindings, key)
	if b.expired(time.Now()) {
		return Binding{}, fmt.Errorf("binding key expired at %s", b.ExpiresAt)
	}
	return b, nil
}

// Sweep discards expired, unredeemed bindings. Called periodically by the
// daemon so the registry never grows unbounded from abandoned bindings.
func (r *Registry) Sweep() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, b := range r.bindings {
		if b.expired(now) {
			delete(r.bindings, k)
		}
	}
}

func randomKey() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return uuid.NewString() + "-" + hex.EncodeToString(buf[:]), nil
}
