// Package secrets resolves sensitive configuration values (the VAPID private
// key, the JWT signing secret) from a chain of sources and keeps them out of
// logs.
package secrets

import (
	"fmt"
)

const redacted = "[REDACTED]"

// Secret holds a sensitive string. Every formatting and encoding path prints
// [REDACTED]; only Reveal returns the value.
type Secret struct {
	value string
}

// New wraps value.
func New(value string) Secret {
	return Secret{value: value}
}

// Reveal returns the raw value. Call it only where the value is consumed.
func (s Secret) Reveal() string {
	return s.value
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return s.value == ""
}

func (s Secret) String() string {
	return redacted
}

func (s Secret) GoString() string {
	return redacted
}

// Format covers %v, %+v, %#v, %s, %q, %x and friends.
func (s Secret) Format(f fmt.State, verb rune) {
	_, _ = f.Write([]byte(redacted))
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}
