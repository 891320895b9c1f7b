package releaseworker

import "fmt"

// Compatibility describes how a (ZLS build, Zig version) pair behaved in CI.
type Compatibility uint

const (
	// CompatNone means the pair is incompatible.
	CompatNone Compatibility = iota
	// CompatOnlyRuntime means ZLS could not be built from source with that
	// Zig, but the pre-built binary runs against it.
	CompatOnlyRuntime
	// CompatFull means ZLS could be built with that Zig and ran against it.
	CompatFull
)

var compatNames = [...]string{
	CompatNone:        "none",
	CompatOnlyRuntime: "only-runtime",
	CompatFull:        "full",
}

// ParseCompatibility parses the wire representation of a Compatibility.
func ParseCompatibility(s string) (Compatibility, error) {
	for c, n := range compatNames {
		if s == n {
			return Compatibility(c), nil
		}
	}
	return CompatNone, fmt.Errorf("invalid compatibility %q", s)
}

// String returns the wire representation.
func (c Compatibility) String() string {
	if int(c) < len(compatNames) {
		return compatNames[c]
	}
	return fmt.Sprintf("Compatibility(%d)", uint(c))
}

// MarshalText implements [encoding.TextMarshaler].
func (c Compatibility) MarshalText() ([]byte, error) {
	if int(c) >= len(compatNames) {
		return nil, fmt.Errorf("invalid compatibility %d", uint(c))
	}
	return []byte(compatNames[c]), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (c *Compatibility) UnmarshalText(text []byte) error {
	p, err := ParseCompatibility(string(text))
	if err != nil {
		return err
	}
	*c = p
	return nil
}
