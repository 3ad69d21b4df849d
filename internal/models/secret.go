package models

import "log/slog"

// Secret wraps sensitive material (one-time codes, plaintext secrets) so it
// redacts itself in logs and JSON, and can be zeroed after use. Layers pass
// Secret values instead of plain strings so an accidental log statement never
// leaks the underlying bytes.
type Secret []byte

// NewSecret copies s into a fresh Secret.
func NewSecret(s string) Secret {
	return Secret([]byte(s))
}

// Reveal returns the underlying value. Call sites that Reveal are the only
// places plaintext escapes the wrapper.
func (s Secret) Reveal() string {
	return string(s)
}

// String implements fmt.Stringer and always redacts.
func (s Secret) String() string {
	return "[REDACTED]"
}

// LogValue implements slog.LogValuer and always redacts.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// MarshalJSON redacts the value in any serialized output.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// Wipe zeroes the underlying bytes.
func (s Secret) Wipe() {
	for i := range s {
		s[i] = 0
	}
}
