// Package datastore defines the persistence interface the release service
// depends on, along with implementations under sub-packages.
package datastore

import (
	"context"

	"github.com/zigtools/releaseworker"
)

// ReleaseStore is the persistent mapping from a ZLS version to its release
// record.
//
// Query methods return nil (and a nil slice) when nothing matches; an error
// indicates the store itself failed. All ordered queries return the order
// documented on the method.
type ReleaseStore interface {
	// AllTaggedDesc returns every tagged release, ordered by
	// (major, minor, patch) descending.
	AllTaggedDesc(ctx context.Context) ([]*releaseworker.ReleaseRecord, error)

	// AllTaggedAsc returns every tagged release, ordered by
	// (major, minor, patch) ascending.
	AllTaggedAsc(ctx context.Context) ([]*releaseworker.ReleaseRecord, error)

	// TaggedByMinor returns the tagged releases with the given major and
	// minor, ordered by patch descending.
	TaggedByMinor(ctx context.Context, major, minor uint32) ([]*releaseworker.ReleaseRecord, error)

	// DevByMinor returns the development builds with the given major and
	// minor, ordered by commit height ascending.
	DevByMinor(ctx context.Context, major, minor uint32) ([]*releaseworker.ReleaseRecord, error)

	// DevByQuad returns the development build matching
	// (major, minor, patch, commitHeight) exactly, or nil.
	DevByQuad(ctx context.Context, major, minor, patch, height uint32) (*releaseworker.ReleaseRecord, error)

	// GetByVersion returns the record for the exact ZLS version string, or
	// nil.
	GetByVersion(ctx context.Context, version string) (*releaseworker.ReleaseRecord, error)

	// UpsertRecord inserts rec if no record exists for its ZLS version.
	// When one does, the stored record is left untouched.
	UpsertRecord(ctx context.Context, rec *releaseworker.ReleaseRecord) error

	// PatchTestedZigVersions merges the provided entries into the named
	// record's TestedZigVersions, overwriting existing keys.
	PatchTestedZigVersions(ctx context.Context, zlsVersion string, tested map[string]releaseworker.Compatibility) error

	// Batch applies UpsertRecord(rec) and PatchTestedZigVersions(rec's
	// version, tested) atomically, so a newly created record always carries
	// the CI datapoint that created it.
	Batch(ctx context.Context, rec *releaseworker.ReleaseRecord, tested map[string]releaseworker.Compatibility) error
}
