package releaseworker

import (
	"fmt"
	"regexp"
	"strconv"
)

// Version is a version in the dialect shared by Zig and ZLS.
//
// A version is either a tagged release ("0.12.0") or a development build
// ("0.12.0-dev.5+abcdef123"). Development builds order by commit height
// within the same release triple; the commit id never participates in
// ordering. A tagged release sorts after every development build with the
// same triple.
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32

	// IsDev marks a development build. CommitHeight and CommitID are only
	// meaningful when set.
	IsDev        bool
	CommitHeight uint32
	CommitID     string
}

// VersionPattern is the only accepted shape for versions. Anything else,
// including semver constructs the dialect doesn't use (pre-release tags other
// than "dev", build metadata on tagged releases), fails to parse.
var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:-dev\.(\d+)\+([0-9a-f]{7,9}))?$`)

// ParseVersion parses s into a Version.
//
// Numeric components must fit in 32 bits.
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}
	var v Version
	for i, dst := range []*uint32{&v.Major, &v.Minor, &v.Patch} {
		n, err := strconv.ParseUint(m[i+1], 10, 32)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		*dst = uint32(n)
	}
	if m[4] != "" {
		n, err := strconv.ParseUint(m[4], 10, 32)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		v.IsDev = true
		v.CommitHeight = uint32(n)
		v.CommitID = m[5]
	}
	return v, nil
}

// MustParseVersion is like [ParseVersion] but panics on error. Meant for
// static initializers and tests.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsTagged reports whether v is a tagged release.
func (v Version) IsTagged() bool { return !v.IsDev }

// Compare returns -1, 0, or 1 as v sorts before, equal to, or after o.
func (v Version) Compare(o Version) int {
	for _, c := range [...][2]uint32{
		{v.Major, o.Major},
		{v.Minor, o.Minor},
		{v.Patch, o.Patch},
	} {
		switch {
		case c[0] < c[1]:
			return -1
		case c[0] > c[1]:
			return 1
		}
	}
	// Equal triples: a tagged release is newer than any development build.
	switch {
	case v.IsDev && !o.IsDev:
		return -1
	case !v.IsDev && o.IsDev:
		return 1
	case !v.IsDev:
		return 0
	}
	switch {
	case v.CommitHeight < o.CommitHeight:
		return -1
	case v.CommitHeight > o.CommitHeight:
		return 1
	}
	return 0
}

// Less reports whether v sorts before o. Convenience for sorting.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// MaxVersion returns the later of a and b.
func MaxVersion(a, b Version) Version {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

// String returns the canonical form, round-tripping [ParseVersion].
func (v Version) String() string {
	if v.IsDev {
		return fmt.Sprintf("%d.%d.%d-dev.%d+%s", v.Major, v.Minor, v.Patch, v.CommitHeight, v.CommitID)
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// MarshalText implements [encoding.TextMarshaler].
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (v *Version) UnmarshalText(text []byte) error {
	p, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = p
	return nil
}
