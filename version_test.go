package releaseworker

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseVersion(t *testing.T) {
	t.Parallel()
	tt := []struct {
		In   string
		Want Version
	}{
		{"0.0.0", Version{}},
		{"0.11.0", Version{Minor: 11}},
		{"0.12.1", Version{Minor: 12, Patch: 1}},
		{"4294967295.0.0", Version{Major: 4294967295}},
		{"0.12.0-dev.5+abcdef1", Version{Minor: 12, IsDev: true, CommitHeight: 5, CommitID: "abcdef1"}},
		{"0.13.0-dev.1+aaaaaaaaa", Version{Minor: 13, IsDev: true, CommitHeight: 1, CommitID: "aaaaaaaaa"}},
	}
	for _, tc := range tt {
		got, err := ParseVersion(tc.In)
		if err != nil {
			t.Errorf("ParseVersion(%q): unexpected error: %v", tc.In, err)
			continue
		}
		if !cmp.Equal(got, tc.Want) {
			t.Errorf("ParseVersion(%q): %s", tc.In, cmp.Diff(tc.Want, got))
		}
	}
}

func TestParseVersionRejects(t *testing.T) {
	t.Parallel()
	bad := []string{
		"",
		"1",
		"1.2",
		"1.2.3.4",
		"v1.2.3",
		"1.2.3-rc1",
		"1.2.3-dev",
		"1.2.3-dev.4",            // missing commit id
		"1.2.3-dev.4+",           // empty commit id
		"1.2.3-dev.4+abc",        // commit id too short
		"1.2.3-dev.4+aaaaaaaaaa", // commit id too long
		"1.2.3-dev.4+ABCDEF1",    // commit id not lowercase hex
		"1.2.3-dev.4+ggggggg",    // commit id not hex
		"1.2.3+abcdef1",          // build metadata without dev suffix
		"4294967296.0.0",         // major overflows 32 bits
		"0.0.0-dev.4294967296+abcdef1",
		" 1.2.3",
		"1.2.3 ",
	}
	for _, in := range bad {
		if v, err := ParseVersion(in); err == nil {
			t.Errorf("ParseVersion(%q): got %v, want error", in, v)
		}
	}
}

func TestVersionRoundTrip(t *testing.T) {
	t.Parallel()
	for _, in := range []string{
		"0.0.0",
		"0.11.0",
		"0.12.1",
		"10.20.30",
		"0.12.0-dev.5+abcdef1",
		"0.12.0-dev.4294967295+abcdef123",
	} {
		v, err := ParseVersion(in)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", in, err)
		}
		if got := v.String(); got != in {
			t.Errorf("round trip: got %q, want %q", got, in)
		}
		back, err := ParseVersion(v.String())
		if err != nil {
			t.Fatalf("re-parse of %q: %v", v.String(), err)
		}
		if !cmp.Equal(v, back) {
			t.Errorf("re-parse of %q: %s", in, cmp.Diff(v, back))
		}
	}
}

func TestVersionCompare(t *testing.T) {
	t.Parallel()
	// Ascending chain, including the spec's ordering of development builds
	// below the tagged release with the same triple.
	chain := []string{
		"0.9.0-dev.10+aaaaaaa",
		"0.11.0",
		"0.12.0-dev.1+aaaaaaa",
		"0.12.0-dev.5+aaaaaaa",
		"0.12.0",
		"0.12.1",
		"0.13.0-dev.1+aaaaaaa",
		"0.13.0",
		"1.0.0",
	}
	vs := make([]Version, len(chain))
	for i, s := range chain {
		vs[i] = MustParseVersion(s)
	}
	for i := range vs {
		for j := range vs {
			want := 0
			switch {
			case i < j:
				want = -1
			case i > j:
				want = 1
			}
			if got := vs[i].Compare(vs[j]); got != want {
				t.Errorf("Compare(%v, %v): got %d, want %d", vs[i], vs[j], got, want)
			}
		}
	}
}

func TestVersionCompareIgnoresCommitID(t *testing.T) {
	t.Parallel()
	a := MustParseVersion("0.12.0-dev.5+aaaaaaa")
	b := MustParseVersion("0.12.0-dev.5+fffffff")
	if got := a.Compare(b); got != 0 {
		t.Errorf("Compare: got %d, want 0", got)
	}
}

func TestMaxVersion(t *testing.T) {
	t.Parallel()
	a := MustParseVersion("0.12.0-dev.5+aaaaaaa")
	b := MustParseVersion("0.11.0")
	if got := MaxVersion(a, b); !cmp.Equal(got, a) {
		t.Errorf("MaxVersion: got %v, want %v", got, a)
	}
	if got := MaxVersion(b, a); !cmp.Equal(got, a) {
		t.Errorf("MaxVersion: got %v, want %v", got, a)
	}
}

func TestVersionJSON(t *testing.T) {
	t.Parallel()
	v := MustParseVersion("0.12.0-dev.5+abcdef1")
	b, err := v.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var got Version
	if err := got.UnmarshalText(b); err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(v, got) {
		t.Error(cmp.Diff(v, got))
	}
	if err := got.UnmarshalText([]byte("nope")); err == nil {
		t.Error("expected unmarshal error")
	}
}
