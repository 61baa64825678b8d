package release

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseVersion covers accepted spellings and rejected inputs.
func TestParseVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "1.38.0", want: Version{1, 38, 0}},
		{in: "v1.37.2", want: Version{1, 37, 2}},
		{in: " 2.1 ", want: Version{2, 1, 0}},
		{in: "0.0.0", want: Version{}},
		{in: "1", wantErr: true},
		{in: "1.2.3.4", wantErr: true},
		{in: "1.2.3-beta", wantErr: true},
		{in: "1.2.3+build7", wantErr: true},
		{in: "one.two.three", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseVersion(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)

			continue
		}

		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}

// TestVersionTotalOrder checks that Compare is antisymmetric and transitive over a sample.
func TestVersionTotalOrder(t *testing.T) {
	t.Parallel()

	sample := []Version{
		{0, 0, 1}, {0, 1, 0}, {1, 0, 0}, {1, 9, 9}, {1, 10, 0},
		{1, 37, 0}, {1, 38, 0}, {1, 38, 1}, {2, 0, 0}, {10, 0, 0},
	}

	for i, a := range sample {
		require.Equal(t, 0, a.Compare(a))
		require.True(t, a.Equal(a))

		for j, b := range sample {
			require.Equal(t, -a.Compare(b), b.Compare(a))
			require.Equal(t, i < j, a.Less(b), "%s < %s", a, b)

			for _, c := range sample {
				if a.Less(b) && b.Less(c) {
					require.True(t, a.Less(c))
				}
			}
		}
	}
}

// TestVersionBump verifies each bump kind resets the lower parts.
func TestVersionBump(t *testing.T) {
	t.Parallel()

	base := MustParseVersion("1.37.4")

	for kind, want := range map[Bump]string{
		BumpMajor: "2.0.0",
		BumpMinor: "1.38.0",
		BumpPatch: "1.37.5",
	} {
		got, err := base.Bump(kind)
		require.NoError(t, err)
		require.Equal(t, want, got.String())
		require.True(t, base.Less(got))
	}

	_, err := base.Bump("sideways")
	require.Error(t, err)
}

// TestParseBump accepts known kinds in any case.
func TestParseBump(t *testing.T) {
	t.Parallel()

	kind, err := ParseBump(" Minor ")
	require.NoError(t, err)
	require.Equal(t, BumpMinor, kind)

	_, err = ParseBump("huge")
	require.Error(t, err)
}

// TestVersionJSON checks that versions travel as dotted strings.
func TestVersionJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(struct {
		V Version `json:"v"`
	}{V: Version{1, 2, 3}})
	require.NoError(t, err)
	require.JSONEq(t, `{"v":"1.2.3"}`, string(data))

	var decoded struct {
		V Version `json:"v"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"v":"v4.5.6"}`), &decoded))
	require.Equal(t, Version{4, 5, 6}, decoded.V)
	require.Equal(t, "v4.5.6", decoded.V.Tag())
}
