package imbridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueRedeemRoundTrip(t *testing.T) {
	r := NewRegistry()
	b, err := r.Issue("g1", "slack", "C123")
	require.NoError(t, err)

	redeemed, err := r.Redeem(b.Key)
	require.NoError(t, err)
	assert.Equal(t, "g1", redeemed.GroupID)
	assert.Equal(t, "slack", redeemed.Platform)
}

func TestRedeemIsOneTime(t *testing.T) {
	r := NewRegistry()
	b, err := r.Issue("g1", "slack", "C123")
	require.NoError(t, err)

	_, err = r.Redeem(b.Key)
	require.NoError(t, err)

	_, err = r.Redeem(b.Key)
	assert.Error(t, err)
}

func TestRedeemRejectsExpired(t *testing.T) {
	r := NewRegistry()
	b, err := r.Issue("g1", "slack", "C123")
	require.NoError(t, err)

	r.mu.Lock()
	entry := r.bindings[b.Key]
	entry.ExpiresAt = time.Now().Add(-time.Second)
	r.bindings[b.Key] = entry
	r.mu.Unlock()

	_, err = r.Redeem(b.Key)
	assert.Error(t, err)
}

func TestSweepDropsExpiredOnly(t *testing.T) {
	r := NewRegistry()
	live, _ := r.Issue("g1", "slack", "C1")
	stale, _ := r.Issue("g1", "slack", "C2")

	r.mu.Lock()
	entry := r.bindings[stale.Key]
	entry.ExpiresAt = time.Now().Add(-time.Minute)
	r.bindings[stale.Key] = entry
	r.mu.Unlock()

	r.Sweep()

	_, err := r.Redeem(stale.Key)
	assert.Error(t, err)
	_, err = r.Redeem(live.Key)
	assert.NoError(t, err)
}
