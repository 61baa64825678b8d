package release

import (
	"errors"
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

var (
	errVersionFormat = errors.New("unsupported version format")
	errUnknownBump   = errors.New("unknown bump kind")
)

// Version is a release version ordered by numeric comparison of its parts.
type Version struct {
	Major int
	Minor int
	Patch int
}

// Bump selects which part of a Version is incremented.
type Bump string

const (
	// BumpMajor increments the major part and resets the rest.
	BumpMajor Bump = "major"
	// BumpMinor increments the minor part and resets the patch.
	BumpMinor Bump = "minor"
	// BumpPatch increments the patch part.
	BumpPatch Bump = "patch"
)

// ParseBump converts user input into a Bump.
func ParseBump(s string) (Bump, error) {
	switch b := Bump(strings.ToLower(strings.TrimSpace(s))); b {
	case BumpMajor, BumpMinor, BumpPatch:
		return b, nil
	default:
		return "", fmt.Errorf("%q: %w", s, errUnknownBump)
	}
}

// ParseVersion accepts "1.2.3", "v1.2.3" and "1.2" (patch defaults to zero).
// Pre-release and build metadata are rejected: releases are plain triples.
func ParseVersion(s string) (Version, error) {
	raw := strings.TrimSpace(s)

	dots := strings.Count(strings.TrimPrefix(raw, "v"), ".")
	if dots < 1 || dots > 2 {
		return Version{}, fmt.Errorf("%q: %w", s, errVersionFormat)
	}

	parsed, err := goversion.NewVersion(raw)
	if err != nil {
		return Version{}, fmt.Errorf("%q: %w", s, errVersionFormat)
	}

	if parsed.Prerelease() != "" || parsed.Metadata() != "" {
		return Version{}, fmt.Errorf("%q: pre-release versions are not published: %w", s, errVersionFormat)
	}

	segments := parsed.Segments()

	return Version{
		Major: segments[0],
		Minor: segments[1],
		Patch: segments[2],
	}, nil
}

// MustParseVersion is like ParseVersion but panics on malformed input.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}

	return v
}

// String renders the version as a dotted triple.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Tag renders the version as a git tag.
func (v Version) Tag() string {
	return "v" + v.String()
}

// IsZero reports whether the version is 0.0.0.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare returns -1, 0 or 1 when v is lower than, equal to or greater than other.
func (v Version) Compare(other Version) int {
	switch {
	case v.Major != other.Major:
		return sign(v.Major - other.Major)
	case v.Minor != other.Minor:
		return sign(v.Minor - other.Minor)
	default:
		return sign(v.Patch - other.Patch)
	}
}

// Less reports whether v sorts before other.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// Equal reports whether both versions are the same release.
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

// Bump returns the next version for the given bump kind.
func (v Version) Bump(kind Bump) (Version, error) {
	switch kind {
	case BumpMajor:
		return Version{Major: v.Major + 1}, nil
	case BumpMinor:
		return Version{Major: v.Major, Minor: v.Minor + 1}, nil
	case BumpPatch:
		return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}, nil
	default:
		return Version{}, fmt.Errorf("%q: %w", kind, errUnknownBump)
	}
}

// MarshalText implements encoding.TextMarshaler so versions serialize as strings.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}

	*v = parsed

	return nil
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
