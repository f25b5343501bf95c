package masking

import (
	"regexp"
	"sort"
	"strings"
)

// Redacted is substituted for any value this package redacts.
const Redacted = "***REDACTED***"

// genericSecretPattern flags env keys that look secret-shaped even when a
// caller forgot to register them explicitly, so a stray API_KEY or
// *_TOKEN env var is never logged in the clear by default.
var genericSecretPattern = regexp.MustCompile(`(?i)(key|token|secret|password|credential|auth)`)

// Masker redacts an actor's private env before it is logged, embedded in a
// debug snapshot, or (never, by construction) written to a blueprint.
// Stateless and safe for concurrent use; the one generic pattern above is
// compiled once at package initialization.
type Masker struct{}

// New constructs a Masker.
func New() *Masker { return &Masker{} }

// LooksSecret reports whether an env var name should be treated as a
// secret even if its actor profile did not flag it. Exported so the
// config/blueprint layer can double-check env keys it is about to persist
// into group.yaml (which never carries values, but should not even carry
// a key name that would invite someone to hardcode a value next to it).
func (m *Masker) LooksSecret(envKey string) bool {
	return genericSecretPattern.MatchString(envKey)
}

// RedactEnv returns a copy of env with every value replaced by Redacted,
// keeping only the key names — the shape blueprint exports and debug
// snapshots are allowed to carry.
func (m *Masker) RedactEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k := range env {
		out[k] = Redacted
	}
	return out
}

// EnvKeys returns env's key names, sorted, for a blueprint's EnvKeys field.
func (m *Masker) EnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RedactText scans free text (a log line, a debug snapshot field) for any
// of the supplied secret values and replaces them verbatim. Used before an
// actor's stderr/PTY transcript tail or rendered injection text is logged,
// so a secret echoed by a misbehaving agent doesn't end up in the
// daemon's own log file.
func (m *Masker) RedactText(text string, secrets map[string]string) string {
	for _, v := range secrets {
		if v == "" {
			continue
		}
		text = strings.ReplaceAll(text, v, Redacted)
	}
	return text
}
