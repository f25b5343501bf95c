package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactEnvKeepsKeysDropsValues(t *testing.T) {
	m := New()
	redacted := m.RedactEnv(map[string]string{"API_KEY": "sk-live-123", "REGION": "us-east-1"})
	assert.Equal(t, Redacted, redacted["API_KEY"])
	assert.Equal(t, Redacted, redacted["REGION"])
	assert.Len(t, redacted, 2)
}

func TestEnvKeysSorted(t *testing.T) {
	m := New()
	keys := m.EnvKeys(map[string]string{"ZOO": "1", "ALPHA": "2"})
	assert.Equal(t, []string{"ALPHA", "ZOO"}, keys)
}

func TestLooksSecret(t *testing.T) {
	m := New()
	assert.True(t, m.LooksSecret("GITHUB_TOKEN"))
	assert.True(t, m.LooksSecret("api_key"))
	assert.False(t, m.LooksSecret("REGION"))
}

func TestRedactTextReplacesKnownSecrets(t *testing.T) {
	m := New()
	out := m.RedactText("using key sk-live-123 to call api", map[string]string{"API_KEY": "sk-live-123"})
	assert.Equal(t, "using key "+Redacted+" to call api", out)
}
