package security

// Secret is a string type for credential material (client secrets, delegated
// access tokens) that redacts its value in String(), GoString(), and
// MarshalText(). This prevents the value from leaking through fmt verbs,
// slog attributes, or JSON/YAML serialization. The raw value is only
// reachable through [Secret.Value].
type Secret string

// secretRedacted is the placeholder emitted instead of the actual value.
const secretRedacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return secretRedacted }

// GoString returns the redacted placeholder, covering %#v formatting.
func (s Secret) GoString() string { return secretRedacted }

// Value returns the underlying secret. Call it only at the point where the
// raw value is actually needed (a form field, an Authorization header).
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler with the redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool { return len(s) == 0 }
