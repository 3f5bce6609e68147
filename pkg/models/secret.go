package models

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

const redacted = "********"

// Secret is a credential that never prints in clear. Every formatting and
// marshaling path renders the mask; Reveal returns the value for the wire.
type Secret string

// Reveal returns the clear-text value.
func (s Secret) Reveal() string {
	return string(s)
}

// IsSet reports whether the secret has a value.
func (s Secret) IsSet() bool {
	return s != ""
}

// String returns the mask, or "" for an unset secret.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString covers %#v.
func (s Secret) GoString() string {
	return strconv.Quote(s.String())
}

// Format covers every fmt verb so that %s, %v, %q and %x all stay masked.
func (s Secret) Format(f fmt.State, verb rune) {
	switch verb {
	case 'q':
		_, _ = io.WriteString(f, strconv.Quote(s.String()))
	case 'v':
		if f.Flag('#') {
			_, _ = io.WriteString(f, s.GoString())
			return
		}
		_, _ = io.WriteString(f, s.String())
	default:
		_, _ = io.WriteString(f, s.String())
	}
}

// MarshalJSON writes the mask.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// MarshalYAML writes the mask.
func (s Secret) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}
