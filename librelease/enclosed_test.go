package librelease

import (
	"testing"

	"github.com/zigtools/releaseworker"
)

// NaiveEnclosed is the brute-force definition of enclosure: v is enclosed iff the
// nearest tested neighbor at or below v failed and the nearest tested
// neighbor at or above v failed, with an exactly-matching neighbor counting
// as both.
func naiveEnclosed(tested []releaseworker.TestedZig, v releaseworker.Version) bool {
	lowFail, highFail := true, true
	bestLow, bestHigh := -1, -1
	for i, tz := range tested {
		if tz.Version.Compare(v) <= 0 && (bestLow == -1 || tested[bestLow].Version.Less(tz.Version)) {
			bestLow = i
		}
		if tz.Version.Compare(v) >= 0 && (bestHigh == -1 || tz.Version.Less(tested[bestHigh].Version)) {
			bestHigh = i
		}
	}
	if bestLow != -1 {
		lowFail = !tested[bestLow].Success
	}
	if bestHigh != -1 {
		highFail = !tested[bestHigh].Success
	}
	switch {
	case bestLow == -1:
		return highFail
	case bestHigh == -1:
		return lowFail
	}
	return lowFail && highFail
}

func TestEnclosedMatchesNaiveDefinition(t *testing.T) {
	t.Parallel()
	heights := []uint32{2, 5, 9, 14, 20}
	// Every success/failure assignment over five tested heights, probed at
	// every height from 0 through 22: matches, gaps, and both tails.
	for mask := 0; mask < 1<<len(heights); mask++ {
		tested := make([]releaseworker.TestedZig, len(heights))
		for i, h := range heights {
			tested[i] = releaseworker.TestedZig{
				Version: releaseworker.Version{Minor: 12, IsDev: true, CommitHeight: h, CommitID: "abcdef1"},
				Success: mask&(1<<i) != 0,
			}
		}
		for h := uint32(0); h <= 22; h++ {
			v := releaseworker.Version{Minor: 12, IsDev: true, CommitHeight: h, CommitID: "fffffff"}
			got := isVersionEnclosedInFailure(tested, v)
			want := naiveEnclosed(tested, v)
			if got != want {
				t.Fatalf("mask %05b, probe dev.%d: got %t, want %t", mask, h, got, want)
			}
		}
	}
}

func TestEnclosedAcrossTriples(t *testing.T) {
	t.Parallel()
	mk := func(s string, ok bool) releaseworker.TestedZig {
		return releaseworker.TestedZig{Version: releaseworker.MustParseVersion(s), Success: ok}
	}
	tested := []releaseworker.TestedZig{
		mk("0.13.0", true),
		mk("0.14.0-dev.2+aaaaaaa", true),
		mk("0.14.0-dev.4+aaaaaaa", false),
	}
	tt := []struct {
		Probe string
		Want  bool
	}{
		{"0.12.0", false},               // below range, endpoint succeeded
		{"0.13.0", false},               // exact success
		{"0.14.0-dev.3+aaaaaaa", false}, // between success and failure
		{"0.14.0-dev.4+aaaaaaa", true},  // exact failure
		{"0.14.0-dev.9+aaaaaaa", true},  // above range, endpoint failed
		{"0.14.0", true},                // tagged sorts above every 0.14 dev
	}
	for _, tc := range tt {
		if got := isVersionEnclosedInFailure(tested, releaseworker.MustParseVersion(tc.Probe)); got != tc.Want {
			t.Errorf("probe %s: got %t, want %t", tc.Probe, got, tc.Want)
		}
	}
}
