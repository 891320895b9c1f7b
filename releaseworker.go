// Package releaseworker holds the domain types for the ZLS release
// coordination service.
//
// The service records, for every (ZLS release, Zig version) pair exercised by
// CI, whether the pair was compatible, and serves the "I have Zig X; which
// ZLS should I use?" question over that data. See the librelease package for
// the service operations and the datastore package for persistence.
package releaseworker

import (
	"fmt"
	"sort"
)

// ReleaseRecord is the stored metadata for one published ZLS version.
//
// Records are created on the first successful publish of a ZLS version and
// updated, never deleted, as CI reports further Zig versions against it.
type ReleaseRecord struct {
	ZLSVersion               Version `json:"zlsVersion"`
	ZigVersion               Version `json:"zigVersion"`
	MinimumBuildZigVersion   Version `json:"minimumBuildZigVersion"`
	MinimumRuntimeZigVersion Version `json:"minimumRuntimeZigVersion"`

	// Date is the timestamp of the first publish, in milliseconds since the
	// Unix epoch.
	Date int64 `json:"date"`

	// Artifacts is empty for records whose build failed; such records only
	// exist as updates to previously published versions.
	Artifacts []ReleaseArtifact `json:"artifacts"`

	// TestedZigVersions maps a Zig version string to the compatibility CI
	// observed. The key for ZigVersion is always present with CompatFull on
	// records that carry artifacts.
	TestedZigVersions map[string]Compatibility `json:"testedZigVersions"`

	// Minisign reports whether signature sidecars accompany the artifacts.
	Minisign bool `json:"minisign,omitempty"`
}

// EffectiveMinimum returns the oldest Zig version the record supports under
// the requested compatibility regime.
func (r *ReleaseRecord) EffectiveMinimum(c Compatibility) Version {
	if c == CompatFull {
		return MaxVersion(r.MinimumBuildZigVersion, r.MinimumRuntimeZigVersion)
	}
	return r.MinimumRuntimeZigVersion
}

// TestedZig is one parsed entry of a record's TestedZigVersions, with the
// compatibility collapsed to success or failure under a requested regime.
type TestedZig struct {
	Version Version
	Success bool
}

// SortedTested parses the record's TestedZigVersions into a slice sorted
// ascending by version. A tested compatibility counts as success when it is
// CompatFull, or when it is CompatOnlyRuntime and the caller asked for
// CompatOnlyRuntime.
func (r *ReleaseRecord) SortedTested(want Compatibility) ([]TestedZig, error) {
	ts := make([]TestedZig, 0, len(r.TestedZigVersions))
	for k, c := range r.TestedZigVersions {
		v, err := ParseVersion(k)
		if err != nil {
			return nil, fmt.Errorf("release %v: bad tested zig version: %w", r.ZLSVersion, err)
		}
		ok := c == CompatFull || (c == CompatOnlyRuntime && want == CompatOnlyRuntime)
		ts = append(ts, TestedZig{Version: v, Success: ok})
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Version.Less(ts[j].Version) })
	return ts, nil
}
