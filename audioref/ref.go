// Package audioref provides tagged references to recorded audio. A
// reference is either ephemeral (valid only inside the current process,
// backed by the session cache) or durable (resolvable indefinitely
// through the blob store).
package audioref

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind distinguishes session-local handles from persistent storage links.
type Kind string

const (
	// KindEphemeral marks a reference that expires with the process.
	KindEphemeral Kind = "ephemeral"
	// KindDurable marks a reference resolvable across sessions.
	KindDurable Kind = "durable"
)

// Ref is a tagged audio reference. The zero value means "no audio".
type Ref struct {
	Kind  Kind
	Value string
}

// Ephemeral builds a session-local reference.
func Ephemeral(value string) Ref {
	return Ref{Kind: KindEphemeral, Value: value}
}

// Durable builds a persistent reference.
func Durable(value string) Ref {
	return Ref{Kind: KindDurable, Value: value}
}

// IsZero reports whether the reference carries no audio handle.
func (r Ref) IsZero() bool {
	return r.Value == ""
}

// IsEphemeral reports whether the reference dies with the process.
func (r Ref) IsEphemeral() bool {
	return r.Kind == KindEphemeral
}

// IsDurable reports whether the reference survives across sessions.
func (r Ref) IsDurable() bool {
	return r.Kind == KindDurable
}

// String renders the reference as "<kind>:<value>", the form used in
// persisted records.
func (r Ref) String() string {
	if r.IsZero() {
		return ""
	}
	return string(r.Kind) + ":" + r.Value
}

// Parse reads a reference in the form produced by String. An empty
// string parses to the zero reference.
func Parse(s string) (Ref, error) {
	if s == "" {
		return Ref{}, nil
	}

	kind, value, ok := strings.Cut(s, ":")
	if !ok || value == "" {
		return Ref{}, fmt.Errorf("malformed audio reference: %q", s)
	}

	switch Kind(kind) {
	case KindEphemeral, KindDurable:
		return Ref{Kind: Kind(kind), Value: value}, nil
	default:
		return Ref{}, fmt.Errorf("unknown audio reference kind: %q", kind)
	}
}

// MarshalJSON encodes the reference as its string form.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes the string form produced by MarshalJSON.
func (r *Ref) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
